package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gw/okx-autotrader/internal/config"
	"github.com/gw/okx-autotrader/internal/feed"
	"github.com/gw/okx-autotrader/internal/ingest"
	"github.com/gw/okx-autotrader/internal/journal"
	"github.com/gw/okx-autotrader/internal/liquidate"
	"github.com/gw/okx-autotrader/internal/metrics"
	"github.com/gw/okx-autotrader/internal/notify"
	"github.com/gw/okx-autotrader/internal/okx"
	"github.com/gw/okx-autotrader/internal/tradelog"
	"github.com/gw/okx-autotrader/internal/trigger"
)

// wsPriceWait bounds how long a trigger run waits for a ticker over WS.
const wsPriceWait = 15 * time.Second

// app holds what every job needs. Each job invocation builds its workers
// fresh, so nothing but the store carries over between runs.
type app struct {
	cfg      *config.Config
	store    *tradelog.Store
	client   *okx.Client
	journal  *journal.Journal
	notifier *notify.Discord
	metrics  *metrics.Metrics
}

func newApp(cfg *config.Config) (*app, error) {
	if err := cfg.RequireCredentials(); err != nil {
		return nil, err
	}
	store, err := tradelog.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening db: %w", err)
	}
	j, err := journal.Open(cfg.JournalDir, "audit")
	if err != nil {
		store.Close()
		return nil, err
	}
	n, err := notify.NewDiscord(cfg.DiscordWebhookURL)
	if err != nil {
		store.Close()
		j.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		store:    store,
		client:   okx.NewClient(cfg),
		journal:  j,
		notifier: n,
		metrics:  metrics.New(),
	}, nil
}

func (a *app) Close() {
	a.journal.Close()
	a.store.Close()
}

func (a *app) runJob(ctx context.Context, job string) error {
	start := time.Now()
	var err error
	switch job {
	case "ingest":
		err = a.ingest(ctx)
	case "liquidate":
		err = a.liquidate(ctx)
	case "triggers":
		err = a.triggers(ctx)
	case "cancel-triggers":
		err = a.cancelTriggers(ctx)
	default:
		err = fmt.Errorf("unknown job %q", job)
	}
	a.metrics.RunDone(job, err)
	slog.Debug("job finished", "job", job, "elapsed", time.Since(start))
	return err
}

func (a *app) ingest(ctx context.Context) error {
	in := ingest.New(a.store, a.client, a.cfg.HoldingPeriod, a.cfg.IngestLookback, a.journal, a.metrics)
	_, err := in.Run(ctx)
	return err
}

func (a *app) liquidate(ctx context.Context) error {
	l := liquidate.New(a.store, a.client, a.cfg.LiquidateWorkers, a.journal, a.notifier, a.metrics)
	rep, err := l.Run(ctx)
	if err != nil {
		return err
	}
	if _, err := l.Stuck(ctx, a.cfg.StuckLockAfter); err != nil {
		slog.Warn("stuck lock check failed", "err", err)
	}
	if n := rep.Count(liquidate.SellFailed) + rep.Count(liquidate.LockFailed); n > 0 {
		return fmt.Errorf("%d of %d due fills not sold", n, rep.Due)
	}
	return nil
}

func (a *app) triggers(ctx context.Context) error {
	set, err := config.LoadInstruments(a.cfg.InstrumentsFile)
	if err != nil {
		return err
	}
	if len(set.Instruments) == 0 {
		return errors.New("no instruments configured")
	}

	var prices trigger.PriceSource = a.client
	if a.cfg.PriceSource == "ws" {
		ids := make([]string, 0, len(set.Instruments))
		for _, inst := range set.Instruments {
			ids = append(ids, inst.ID)
		}
		wsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		tickers := feed.NewOKXTickers(a.cfg.OKXWSURL, ids)
		go func() {
			if err := tickers.Run(wsCtx); err != nil && wsCtx.Err() == nil {
				slog.Error("ticker feed error", "err", err)
			}
		}()
		prices = boundedSource{src: tickers, wait: wsPriceWait}
	}

	_, err = trigger.NewPlacer(a.client, prices, set, a.cfg.SigDigits, a.journal, a.metrics).Run(ctx)
	return err
}

func (a *app) cancelTriggers(ctx context.Context) error {
	_, err := trigger.NewCanceller(a.client, a.metrics).Run(ctx)
	return err
}

// boundedSource caps how long a single price lookup may block.
type boundedSource struct {
	src  trigger.PriceSource
	wait time.Duration
}

func (b boundedSource) LastPrice(ctx context.Context, instID string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, b.wait)
	defer cancel()
	return b.src.LastPrice(ctx, instID)
}

// redactDSN hides the password of a postgres URL for logging.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
