// Package metrics exposes the keeper's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"VaultKeeper/internal/model"
)

// Registry holds all keeper metrics on a private Prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	CyclesTotal     *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	AttemptsTotal   *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	MeanBalance     prometheus.Gauge
	NextRun         prometheus.Gauge
	PersistFailures prometheus.Counter
	DeliveryErrors  prometheus.Counter
}

// New creates the registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CyclesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultkeeper_cycles_total",
				Help: "Completed maintenance cycles by result (ok, partial, failed)",
			},
			[]string{"result"},
		),
		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vaultkeeper_cycle_duration_seconds",
				Help:    "Wall-clock duration of a maintenance cycle",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600, 7200},
			},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultkeeper_attempts_total",
				Help: "Operation attempts by kind and attempt state",
			},
			[]string{"kind", "state"},
		),
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultkeeper_outcomes_total",
				Help: "Terminal operation outcomes by kind and state",
			},
			[]string{"kind", "state"},
		),
		MeanBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultkeeper_mean_balance",
				Help: "Mean balance over accounts in the last report",
			},
		),
		NextRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultkeeper_next_run_timestamp_seconds",
				Help: "Unix time of the next scheduled cycle",
			},
		),
		PersistFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultkeeper_persist_failures_total",
				Help: "Failed writes of the schedule state",
			},
		),
		DeliveryErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vaultkeeper_report_delivery_errors_total",
				Help: "Reports the sink failed to deliver",
			},
		),
	}

	r.reg.MustRegister(
		r.CyclesTotal,
		r.CycleDuration,
		r.AttemptsTotal,
		r.OutcomesTotal,
		r.MeanBalance,
		r.NextRun,
		r.PersistFailures,
		r.DeliveryErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Gatherer exposes the underlying registry for tests and handlers.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler returns the /metrics handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveAttempt counts one finished attempt. It matches executor.AttemptHook.
func (r *Registry) ObserveAttempt(a model.OperationAttempt) {
	r.AttemptsTotal.WithLabelValues(string(a.Kind), string(a.State)).Inc()
}

// ObserveReport records the cycle's outcomes and duration.
func (r *Registry) ObserveReport(rep *model.Report, took time.Duration) {
	for _, o := range rep.Outcomes {
		r.OutcomesTotal.WithLabelValues(string(o.Kind), string(o.State())).Inc()
	}
	result := "ok"
	switch {
	case rep.Stats.Total > 0 && rep.Stats.Succeeded == 0:
		result = "failed"
	case rep.Stats.Failed > 0:
		result = "partial"
	}
	r.CyclesTotal.WithLabelValues(result).Inc()
	r.CycleDuration.Observe(took.Seconds())
	if rep.Stats.HasData {
		r.MeanBalance.Set(rep.Stats.MeanBalance)
	}
}

// SetNextRun publishes the armed fire time.
func (r *Registry) SetNextRun(t time.Time) {
	r.NextRun.Set(float64(t.Unix()))
}
