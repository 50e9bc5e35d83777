package main

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type slowSource struct{}

func (slowSource) LastPrice(ctx context.Context, _ string) (decimal.Decimal, error) {
	<-ctx.Done()
	return decimal.Zero, ctx.Err()
}

func TestBoundedSourceTimesOut(t *testing.T) {
	b := boundedSource{src: slowSource{}, wait: 20 * time.Millisecond}
	_, err := b.LastPrice(context.Background(), "BTC-USDT")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://trader:xxxxx@db:5432/autotrader", redactDSN("postgres://trader:secret@db:5432/autotrader"))
	assert.Equal(t, "data/autotrader.db", redactDSN("data/autotrader.db"))
}
