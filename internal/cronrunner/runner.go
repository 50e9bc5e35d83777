package cronrunner

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Runner drives jobs on six-field (seconds first) cron specs. A job still
// running when its next tick fires is skipped for that tick.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := slogLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(logger),
			// Recover sits inside the skip wrapper so a panic still releases the
			// running slot.
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
		baseCtx: baseCtx,
	}
}

func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	if err != nil {
		return 0, err
	}
	slog.Info("cron job scheduled", "job", name, "spec", spec)
	return id, nil
}

func (r *Runner) Start() {
	slog.Info("cron started")
	r.cron.Start()
}

// Stop waits for running jobs to return.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("cron stopped")
}

// slogLogger adapts cron's logger interface to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
