package ingest

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/okx-autotrader/internal/okx"
	"github.com/gw/okx-autotrader/internal/tradelog"
)

// ErrInvalidFill marks a data-quality rejection. Such fills are never stored.
var ErrInvalidFill = errors.New("invalid fill")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFill, fmt.Sprintf(format, args...))
}

// toFill validates an exchange buy fill and converts it to a store row with
// its sell deadline fixed at ts + holding.
func toFill(raw okx.Fill, holding time.Duration) (*tradelog.Fill, error) {
	if raw.TradeID == "" {
		return nil, invalid("missing tradeId")
	}
	if raw.InstID == "" {
		return nil, invalid("missing instId")
	}

	qty, err := decimal.NewFromString(raw.FillSz)
	if err != nil {
		return nil, invalid("fillSz %q: %v", raw.FillSz, err)
	}
	if !qty.IsPositive() {
		return nil, invalid("fillSz %s is not positive", qty)
	}

	px, err := decimal.NewFromString(raw.FillPx)
	if err != nil {
		return nil, invalid("fillPx %q: %v", raw.FillPx, err)
	}
	if px.IsNegative() {
		return nil, invalid("fillPx %s is negative", px)
	}

	ts, err := strconv.ParseInt(raw.Ts, 10, 64)
	if err != nil {
		return nil, invalid("ts %q: %v", raw.Ts, err)
	}
	if ts <= 0 {
		return nil, invalid("ts %d is not positive", ts)
	}

	return &tradelog.Fill{
		TradeID:       raw.TradeID,
		ParentOrderID: raw.OrdID,
		Instrument:    raw.InstID,
		Side:          raw.Side,
		FillQuantity:  qty,
		FillPrice:     px,
		FillTimestamp: ts,
		SellDeadline:  ts + holding.Milliseconds(),
		Fee:           raw.Fee,
		FeeCcy:        raw.FeeCcy,
	}, nil
}
