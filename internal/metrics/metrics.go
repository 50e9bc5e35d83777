// Package metrics holds the Prometheus collectors updated by each job.
//
// Exposed series:
//   - autotrader_fills_total{result}     fills seen by ingestion (inserted|refreshed|unchanged|rejected|skipped)
//   - autotrader_ingest_watermark_ms     last persisted ingestion watermark
//   - autotrader_locks_total{result}     lock attempts (won|lost)
//   - autotrader_sells_total{result}     sell submissions (accepted|failed)
//   - autotrader_triggers_total{result}  conditional buys (placed|failed|cancelled)
//   - autotrader_stuck_locks             fills locked longer than STUCK_LOCK_AFTER
//   - autotrader_runs_total{job,outcome} job invocations (ok|error)
//
// Batch invocations push to a Pushgateway; the daemon serves /metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Metrics struct {
	reg *prometheus.Registry

	Fills      *prometheus.CounterVec
	Watermark  prometheus.Gauge
	Locks      *prometheus.CounterVec
	Sells      *prometheus.CounterVec
	Triggers   *prometheus.CounterVec
	StuckLocks prometheus.Gauge
	Runs       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Fills: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_fills_total",
				Help: "Fills seen by ingestion, by outcome",
			},
			[]string{"result"},
		),
		Watermark: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autotrader_ingest_watermark_ms",
				Help: "Ingestion watermark (exchange time, epoch ms)",
			},
		),
		Locks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_locks_total",
				Help: "Liquidation lock attempts",
			},
			[]string{"result"},
		),
		Sells: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_sells_total",
				Help: "Market sell submissions",
			},
			[]string{"result"},
		),
		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_triggers_total",
				Help: "Conditional buy orders",
			},
			[]string{"result"},
		),
		StuckLocks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "autotrader_stuck_locks",
				Help: "Fills locked longer than the stuck-lock threshold",
			},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autotrader_runs_total",
				Help: "Job invocations",
			},
			[]string{"job", "outcome"},
		),
	}
	m.reg.MustRegister(m.Fills, m.Watermark, m.Locks, m.Sells, m.Triggers, m.StuckLocks, m.Runs)
	return m
}

// RunDone counts one finished invocation of job.
func (m *Metrics) RunDone(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Runs.WithLabelValues(job, outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Push sends the registry to a Pushgateway under job. An empty url is a no-op.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(m.reg).PushContext(ctx)
}
