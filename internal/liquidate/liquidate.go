// Package liquidate sells each due fill exactly once. Exclusion between
// overlapping runs comes only from the store's guarded status updates.
package liquidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/gw/okx-autotrader/internal/journal"
	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/okx"
	"github.com/gw/okx-autotrader/internal/tradelog"
)

type Store interface {
	DueFills(ctx context.Context, now int64) ([]tradelog.Fill, error)
	LockedFills(ctx context.Context, lockedBefore int64) ([]tradelog.Fill, error)
	Lock(ctx context.Context, tradeID, clientID string, now int64) (bool, error)
	Complete(ctx context.Context, tradeID, sellOrderID string, now int64) (bool, error)
	RecordError(ctx context.Context, tradeID, msg string, now int64) error
}

type Exchange interface {
	PlaceMarketSell(ctx context.Context, instID string, size decimal.Decimal, clOrdID string) (*okx.OrderAck, error)
}

type Journal interface {
	Record(e journal.Entry) error
}

type Notifier interface {
	Notify(ctx context.Context, msg string) error
}

var clientIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("okx-autotrader/sell"))

// ClientOrderID derives the sell's clOrdId from the trade id, so an operator
// can look a stuck sell up on the exchange.
func ClientOrderID(tradeID string) string {
	return strings.ReplaceAll(uuid.NewSHA1(clientIDSpace, []byte(tradeID)).String(), "-", "")
}

// Outcome of one due fill.
type Outcome string

const (
	Sold       Outcome = "sold"
	Lost       Outcome = "lost"        // another run holds the lock
	SellFailed Outcome = "sell_failed" // locked, sell not confirmed
	LockFailed Outcome = "lock_failed" // still unprocessed, retried next run
)

type Result struct {
	TradeID  string
	ClientID string
	OrderID  string
	Outcome  Outcome
	Err      error
}

type Report struct {
	Due     int
	Results []Result
}

func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

type Liquidator struct {
	store    Store
	exchange Exchange
	journal  Journal
	notifier Notifier
	metrics  *metrics.Metrics
	workers  int
	now      func() time.Time
}

func New(store Store, ex Exchange, workers int, j Journal, n Notifier, m *metrics.Metrics) *Liquidator {
	return &Liquidator{
		store:    store,
		exchange: ex,
		journal:  j,
		notifier: n,
		metrics:  m,
		workers:  max(1, workers),
		now:      time.Now,
	}
}

// Run sells every fill that is unprocessed with sell_deadline <= now. A failing
// row never stops the others; only the candidate query can fail the run.
func (l *Liquidator) Run(ctx context.Context) (Report, error) {
	nowMs := l.now().UnixMilli()
	due, err := l.store.DueFills(ctx, nowMs)
	if err != nil {
		return Report{}, fmt.Errorf("querying due fills: %w", err)
	}
	rep := Report{Due: len(due)}
	if len(due) == 0 {
		slog.Info("no fills due")
		return rep, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(l.workers)
	for _, f := range due {
		g.Go(func() error {
			res := l.liquidate(ctx, f)
			mu.Lock()
			rep.Results = append(rep.Results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	slog.Info("liquidation complete", "due", rep.Due,
		"sold", rep.Count(Sold), "lost", rep.Count(Lost),
		"sell_failed", rep.Count(SellFailed), "lock_failed", rep.Count(LockFailed))
	return rep, nil
}

func (l *Liquidator) liquidate(ctx context.Context, f tradelog.Fill) Result {
	res := Result{TradeID: f.TradeID, ClientID: ClientOrderID(f.TradeID)}
	log := slog.With("trade_id", f.TradeID, "inst", f.Instrument, "qty", f.FillQuantity)

	ok, err := l.store.Lock(ctx, f.TradeID, res.ClientID, l.now().UnixMilli())
	if err != nil {
		log.Error("lock failed", "err", err)
		res.Outcome, res.Err = LockFailed, err
		return res
	}
	if !ok {
		log.Debug("fill already claimed")
		l.metrics.Locks.WithLabelValues("lost").Inc()
		res.Outcome = Lost
		return res
	}
	l.metrics.Locks.WithLabelValues("won").Inc()

	l.record(journal.Entry{
		Type: journal.KindSellSubmitted, TradeID: f.TradeID, Instrument: f.Instrument,
		Size: f.FillQuantity.String(), ClientID: res.ClientID,
	})
	ack, err := l.exchange.PlaceMarketSell(ctx, f.Instrument, f.FillQuantity, res.ClientID)
	if err != nil {
		l.sellFailed(ctx, f, &res, err)
		return res
	}
	res.OrderID = ack.OrdID

	// The sell is out; record it even if the run is being cancelled.
	done, err := l.store.Complete(context.WithoutCancel(ctx), f.TradeID, ack.OrdID, l.now().UnixMilli())
	if err == nil && !done {
		err = errors.New("row no longer locked")
	}
	if err != nil {
		log.Error("sold but not marked completed", "ord_id", ack.OrdID, "err", err)
		l.alert(ctx, fmt.Sprintf("fill %s (%s %s) sold as order %s but not marked completed: %v",
			f.TradeID, f.FillQuantity, f.Instrument, ack.OrdID, err))
	}

	l.metrics.Sells.WithLabelValues("accepted").Inc()
	l.record(journal.Entry{
		Type: journal.KindSellAccepted, TradeID: f.TradeID, Instrument: f.Instrument,
		Size: f.FillQuantity.String(), ClientID: res.ClientID, OrderID: ack.OrdID,
	})
	log.Info("fill sold", "ord_id", ack.OrdID, "client_id", res.ClientID)
	res.Outcome, res.Err = Sold, err
	return res
}

// sellFailed keeps the row locked: the order may still be live at the
// exchange, so it is left for manual reconciliation.
func (l *Liquidator) sellFailed(ctx context.Context, f tradelog.Fill, res *Result, err error) {
	res.Outcome, res.Err = SellFailed, err
	l.metrics.Sells.WithLabelValues("failed").Inc()
	slog.Error("sell failed, fill stays locked",
		"trade_id", f.TradeID, "inst", f.Instrument, "qty", f.FillQuantity, "client_id", res.ClientID, "err", err)

	if rerr := l.store.RecordError(context.WithoutCancel(ctx), f.TradeID, err.Error(), l.now().UnixMilli()); rerr != nil {
		slog.Error("recording sell error", "trade_id", f.TradeID, "err", rerr)
	}
	l.record(journal.Entry{
		Type: journal.KindSellFailed, TradeID: f.TradeID, Instrument: f.Instrument,
		Size: f.FillQuantity.String(), ClientID: res.ClientID, Error: err.Error(),
	})
	l.alert(ctx, fmt.Sprintf("sell of fill %s (%s %s, clOrdId %s) failed and is left locked: %v",
		f.TradeID, f.FillQuantity, f.Instrument, res.ClientID, err))
}

// Stuck returns fills locked for longer than olderThan, updates the gauge and
// alerts when there are any. It never changes their status.
func (l *Liquidator) Stuck(ctx context.Context, olderThan time.Duration) ([]tradelog.Fill, error) {
	cutoff := l.now().Add(-olderThan).UnixMilli()
	fills, err := l.store.LockedFills(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying locked fills: %w", err)
	}
	l.metrics.StuckLocks.Set(float64(len(fills)))
	if len(fills) > 0 {
		ids := make([]string, 0, len(fills))
		for _, f := range fills {
			ids = append(ids, f.TradeID)
		}
		slog.Warn("stuck locks need reconciliation", "count", len(fills), "older_than", olderThan)
		l.alert(ctx, fmt.Sprintf("%d fill(s) locked for over %s: %s", len(fills), olderThan, strings.Join(ids, ", ")))
	}
	return fills, nil
}

func (l *Liquidator) record(e journal.Entry) {
	if err := l.journal.Record(e); err != nil {
		slog.Warn("journal write failed", "type", e.Type, "err", err)
	}
}

func (l *Liquidator) alert(ctx context.Context, msg string) {
	if err := l.notifier.Notify(context.WithoutCancel(ctx), msg); err != nil {
		slog.Warn("alert failed", "err", err)
	}
}
