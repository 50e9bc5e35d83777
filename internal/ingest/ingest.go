// Package ingest copies executed buy fills from the exchange into the trade
// log and advances the ingestion watermark past what was durably stored.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gw/okx-autotrader/internal/journal"
	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/okx"
	"github.com/gw/okx-autotrader/internal/tradelog"
)

// Scope is the watermark key for OKX spot fills.
const Scope = "okx:spot:fills"

type Store interface {
	Watermark(ctx context.Context, scope string) (int64, bool, error)
	AdvanceWatermark(ctx context.Context, scope string, value, now int64) (bool, error)
	UpsertFill(ctx context.Context, f *tradelog.Fill, now int64) (tradelog.UpsertResult, error)
}

type Exchange interface {
	// FillsSince returns fills with ts >= begin. A non-nil error alongside
	// fills means the window was only partly fetched.
	FillsSince(ctx context.Context, begin int64) ([]okx.Fill, error)
}

type Journal interface {
	Record(e journal.Entry) error
}

type Report struct {
	Fetched   int
	Inserted  int
	Refreshed int
	Unchanged int
	Skipped   int // not a buy, or at/below the watermark
	Rejected  int

	Complete  bool  // every page of the window was fetched
	From      int64 // watermark the run started from
	Watermark int64 // watermark after the run
	Advanced  bool
}

type Ingester struct {
	store    Store
	exchange Exchange
	journal  Journal
	metrics  *metrics.Metrics

	holding  time.Duration
	lookback time.Duration
	now      func() time.Time
}

func New(store Store, ex Exchange, holding, lookback time.Duration, j Journal, m *metrics.Metrics) *Ingester {
	return &Ingester{
		store:    store,
		exchange: ex,
		journal:  j,
		metrics:  m,
		holding:  holding,
		lookback: lookback,
		now:      time.Now,
	}
}

// Run performs one ingestion pass. Rows stored before a failure stay stored;
// the returned error reports the transient failure that cut the run short.
func (in *Ingester) Run(ctx context.Context) (Report, error) {
	var rep Report
	nowMs := in.now().UnixMilli()

	wm, ok, err := in.store.Watermark(ctx, Scope)
	if err != nil {
		return rep, fmt.Errorf("reading watermark: %w", err)
	}
	if !ok {
		wm = nowMs - in.lookback.Milliseconds()
		slog.Info("no watermark yet, using lookback", "from", time.UnixMilli(wm).UTC(), "lookback", in.lookback)
	}
	rep.From, rep.Watermark = wm, wm

	raw, fetchErr := in.exchange.FillsSince(ctx, wm)
	rep.Fetched = len(raw)
	rep.Complete = fetchErr == nil
	if fetchErr != nil {
		if len(raw) == 0 {
			return rep, fmt.Errorf("fetching fills: %w", fetchErr)
		}
		slog.Warn("fills window fetched partially, watermark will not advance", "fetched", len(raw), "err", fetchErr)
	}

	accepted := in.accept(raw, wm, &rep)

	var persistErr error
	var lastGood int64 = -1
	for i, f := range accepted {
		res, err := in.store.UpsertFill(ctx, f, nowMs)
		if err != nil {
			persistErr = err
			lastGood = safeWatermark(accepted, i)
			break
		}
		in.count(res, &rep)
		slog.Debug("fill stored", "trade_id", f.TradeID, "inst", f.Instrument, "qty", f.FillQuantity, "result", res, "deadline", f.Deadline())
	}
	if persistErr == nil && len(accepted) > 0 {
		lastGood = accepted[len(accepted)-1].FillTimestamp
	}

	if rep.Complete && lastGood > wm {
		moved, err := in.store.AdvanceWatermark(ctx, Scope, lastGood, nowMs)
		if err != nil {
			return rep, errors.Join(persistErr, fmt.Errorf("advancing watermark: %w", err))
		}
		rep.Watermark, rep.Advanced = lastGood, moved
	}
	if ok || rep.Advanced {
		in.metrics.Watermark.Set(float64(rep.Watermark))
	}

	slog.Info("ingest complete",
		"fetched", rep.Fetched, "inserted", rep.Inserted, "refreshed", rep.Refreshed,
		"unchanged", rep.Unchanged, "skipped", rep.Skipped, "rejected", rep.Rejected,
		"watermark", rep.Watermark, "advanced", rep.Advanced, "complete", rep.Complete)

	if persistErr != nil {
		return rep, fmt.Errorf("persisting fills: %w", persistErr)
	}
	if fetchErr != nil {
		return rep, fmt.Errorf("fetching fills: %w", fetchErr)
	}
	return rep, nil
}

// accept filters raw fills down to valid, new buys in ascending (ts, tradeId) order.
func (in *Ingester) accept(raw []okx.Fill, wm int64, rep *Report) []*tradelog.Fill {
	seen := make(map[string]bool, len(raw))
	var out []*tradelog.Fill
	for _, r := range raw {
		if r.Side != "buy" {
			rep.Skipped++
			in.metrics.Fills.WithLabelValues("skipped").Inc()
			continue
		}
		f, err := toFill(r, in.holding)
		if err != nil {
			rep.Rejected++
			in.reject(r, err)
			continue
		}
		if f.FillTimestamp <= wm || seen[f.TradeID] {
			rep.Skipped++
			in.metrics.Fills.WithLabelValues("skipped").Inc()
			continue
		}
		seen[f.TradeID] = true
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FillTimestamp != out[j].FillTimestamp {
			return out[i].FillTimestamp < out[j].FillTimestamp
		}
		return out[i].TradeID < out[j].TradeID
	})
	return out
}

// safeWatermark returns the highest timestamp below accepted[failed] that was
// stored, or -1. Fills sharing the failed fill's timestamp are excluded so the
// next run's ts > watermark filter still picks the failed one up.
func safeWatermark(accepted []*tradelog.Fill, failed int) int64 {
	limit := accepted[failed].FillTimestamp
	for i := failed - 1; i >= 0; i-- {
		if accepted[i].FillTimestamp < limit {
			return accepted[i].FillTimestamp
		}
	}
	return -1
}

func (in *Ingester) count(res tradelog.UpsertResult, rep *Report) {
	switch res {
	case tradelog.Inserted:
		rep.Inserted++
	case tradelog.Refreshed:
		rep.Refreshed++
	default:
		rep.Unchanged++
	}
	in.metrics.Fills.WithLabelValues(res.String()).Inc()
}

func (in *Ingester) reject(r okx.Fill, err error) {
	in.metrics.Fills.WithLabelValues("rejected").Inc()
	slog.Error("rejecting fill", "trade_id", r.TradeID, "inst", r.InstID, "err", err, "payload", r)
	if jerr := in.journal.Record(journal.Entry{
		Type:       journal.KindFillRejected,
		TradeID:    r.TradeID,
		Instrument: r.InstID,
		Error:      err.Error(),
		Payload:    r,
	}); jerr != nil {
		slog.Warn("journal write failed", "err", jerr)
	}
}
