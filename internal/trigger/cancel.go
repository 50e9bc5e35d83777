package trigger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/okx"
)

type AlgoExchange interface {
	PendingTriggerOrders(ctx context.Context) ([]okx.AlgoOrder, error)
	CancelAlgos(ctx context.Context, orders []okx.CancelAlgoRequest) ([]okx.AlgoAck, error)
}

// Canceller removes pending conditional buys so a new day's set replaces them.
type Canceller struct {
	exchange AlgoExchange
	metrics  *metrics.Metrics
}

func NewCanceller(ex AlgoExchange, m *metrics.Metrics) *Canceller {
	return &Canceller{exchange: ex, metrics: m}
}

// Run cancels every pending buy-side trigger order and returns how many the
// exchange accepted for cancellation.
func (c *Canceller) Run(ctx context.Context) (int, error) {
	pending, err := c.exchange.PendingTriggerOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing pending triggers: %w", err)
	}

	var reqs []okx.CancelAlgoRequest
	for _, o := range pending {
		if o.Side != "buy" {
			continue
		}
		reqs = append(reqs, okx.CancelAlgoRequest{AlgoID: o.AlgoID, InstID: o.InstID})
	}
	if len(reqs) == 0 {
		slog.Info("no pending triggers to cancel")
		return 0, nil
	}

	acks, err := c.exchange.CancelAlgos(ctx, reqs)
	cancelled := 0
	for _, a := range acks {
		if a.SCode == "0" {
			cancelled++
			continue
		}
		slog.Warn("trigger cancel rejected", "algo_id", a.AlgoID, "s_code", a.SCode, "s_msg", a.SMsg)
	}
	c.metrics.Triggers.WithLabelValues("cancelled").Add(float64(cancelled))
	slog.Info("triggers cancelled", "cancelled", cancelled, "pending", len(reqs))
	if err != nil {
		return cancelled, fmt.Errorf("cancelling triggers: %w", err)
	}
	return cancelled, nil
}
