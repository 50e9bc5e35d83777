package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gw/okx-autotrader/internal/config"
	"github.com/gw/okx-autotrader/internal/cronrunner"
	"github.com/gw/okx-autotrader/internal/logging"
	"github.com/gw/okx-autotrader/internal/tradelog"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}
	os.Exit(run(flag.Arg(0), flag.Args()[1:], *debug))
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: autotrader [-debug] <command>

Commands:
  ingest            Store new buy fills from OKX and advance the watermark
  liquidate         Market-sell every fill past its sell deadline
  triggers          Place today's conditional buy orders
  cancel-triggers   Cancel pending conditional buy orders
  locked [AGE]      List fills locked longer than AGE (default STUCK_LOCK_AFTER)
  fills [N]         Show the last N fills (default 50) and status counts
  daemon            Run ingest, liquidate and triggers on their cron specs`)
}

func run(cmd string, args []string, debug bool) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}
	logCloser, err := logging.Setup(cfg, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	switch cmd {
	case "ingest", "liquidate", "triggers", "cancel-triggers":
		return runJob(ctx, cfg, cmd)
	case "locked":
		return runLocked(ctx, cfg, args)
	case "fills":
		limit := 50
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				limit = n
			}
		}
		return runFills(ctx, cfg, limit)
	case "daemon":
		return runDaemon(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		return 1
	}
}

// runJob executes one batch invocation and pushes its metrics.
func runJob(ctx context.Context, cfg *config.Config, job string) int {
	a, err := newApp(cfg)
	if err != nil {
		slog.Error("startup failed", "job", job, "err", err)
		return 1
	}
	defer a.Close()

	err = a.runJob(ctx, job)
	if perr := a.metrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, "autotrader_"+job); perr != nil {
		slog.Warn("pushing metrics", "err", perr)
	}
	if err != nil {
		slog.Error("job failed", "job", job, "err", err)
		return 1
	}
	return 0
}

func runLocked(ctx context.Context, cfg *config.Config, args []string) int {
	age := cfg.StuckLockAfter
	if len(args) > 0 {
		d, err := time.ParseDuration(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "bad age %q: %v\n", args[0], err)
			return 1
		}
		age = d
	}

	store, err := tradelog.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("opening db", "err", err)
		return 1
	}
	defer store.Close()

	fills, err := store.LockedFills(ctx, time.Now().Add(-age).UnixMilli())
	if err != nil {
		slog.Error("query failed", "err", err)
		return 1
	}
	if len(fills) == 0 {
		fmt.Printf("No fills locked longer than %s.\n", age)
		return 0
	}

	fmt.Printf("%-20s %-14s %14s %-20s %-32s %s\n", "Locked", "Instrument", "Qty", "Trade ID", "clOrdId", "Last error")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")
	for _, f := range fills {
		fmt.Printf("%-20s %-14s %14s %-20s %-32s %s\n",
			time.UnixMilli(f.LockedAt).UTC().Format("2006-01-02 15:04:05"),
			f.Instrument,
			f.FillQuantity,
			f.TradeID,
			f.SellClientID,
			f.LastError,
		)
	}
	return 0
}

func runFills(ctx context.Context, cfg *config.Config, limit int) int {
	store, err := tradelog.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Error("opening db", "err", err)
		return 1
	}
	defer store.Close()

	fills, err := store.RecentFills(ctx, limit)
	if err != nil {
		slog.Error("query failed", "err", err)
		return 1
	}
	if len(fills) == 0 {
		fmt.Println("No fills. Run 'autotrader ingest' first.")
		return 0
	}

	fmt.Printf("%-20s %-14s %14s %14s %-20s %-12s %s\n", "Filled", "Instrument", "Qty", "Price", "Sell after", "Status", "Trade ID")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")
	for _, f := range fills {
		fmt.Printf("%-20s %-14s %14s %14s %-20s %-12s %s\n",
			time.UnixMilli(f.FillTimestamp).UTC().Format("2006-01-02 15:04:05"),
			f.Instrument,
			f.FillQuantity,
			f.FillPrice,
			f.Deadline().Format("2006-01-02 15:04:05"),
			f.Status,
			f.TradeID,
		)
	}

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		slog.Error("query failed", "err", err)
		return 1
	}
	fmt.Println()
	for _, c := range counts {
		fmt.Printf("%-12s %d\n", c.Status, c.Count)
	}
	return 0
}

func runDaemon(ctx context.Context, cfg *config.Config) int {
	a, err := newApp(cfg)
	if err != nil {
		slog.Error("startup failed", "err", err)
		return 1
	}
	defer a.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "err", err)
		}
	}()

	runner := cronrunner.New(ctx)
	jobs := []struct{ name, spec string }{
		{"ingest", cfg.CronIngest},
		{"liquidate", cfg.CronLiquidate},
		{"triggers", cfg.CronTriggers},
	}
	for _, j := range jobs {
		steps := []string{j.name}
		if j.name == "triggers" {
			// yesterday's triggers are replaced, not stacked
			steps = []string{"cancel-triggers", "triggers"}
		}
		if _, err := runner.Add(j.name, j.spec, func(ctx context.Context) {
			for _, step := range steps {
				if err := a.runJob(ctx, step); err != nil {
					slog.Error("job failed", "job", step, "err", err)
				}
			}
		}); err != nil {
			slog.Error("bad cron spec", "job", j.name, "spec", j.spec, "err", err)
			return 1
		}
	}

	slog.Info("daemon starting", "env", cfg.OKXEnv, "db", redactDSN(cfg.DatabaseURL))
	runner.Start()
	<-ctx.Done()
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	slog.Info("daemon stopped")
	return 0
}
