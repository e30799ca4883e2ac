// Package metrics holds the engine's prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	Decisions     *prometheus.CounterVec
	Passes        *prometheus.CounterVec
	PassDuration  *prometheus.HistogramVec
	Events        *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	PendingTrades prometheus.Gauge
	Reconciles    *prometheus.CounterVec
}

// New registers every collector on a fresh registry under the given prefix.
func New(prefix string) *Metrics {
	if prefix == "" {
		prefix = "maker"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_decisions_total",
				Help: "Gateway commands issued by decision passes",
			},
			[]string{"action"},
		),
		Passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_passes_total",
				Help: "Decision passes by outcome",
			},
			[]string{"result"},
		),
		PassDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_pass_duration_seconds",
				Help:    "Decision pass duration in seconds, excluding the post-pass pause",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_stream_events_total",
				Help: "Inbound stream events by channel and type",
			},
			[]string{"channel", "type"},
		),
		Reconnects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_stream_reconnects_total",
				Help: "Stream reconnect attempts",
			},
			[]string{"stream"},
		),
		PendingTrades: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: prefix + "_pending_trades",
				Help: "Matched trades awaiting a terminal status",
			},
		),
		Reconciles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_reconciles_total",
				Help: "Position reconciliations by kind",
			},
			[]string{"kind"},
		),
	}
}

func (m *Metrics) ObserveDecision(action string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(action).Inc()
}

func (m *Metrics) ObservePass(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(result).Inc()
	m.PassDuration.WithLabelValues(result).Observe(took.Seconds())
}

func (m *Metrics) ObserveEvent(channel, eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(channel, eventType).Inc()
}

func (m *Metrics) ObserveReconnect(stream string) {
	if m == nil {
		return
	}
	m.Reconnects.WithLabelValues(stream).Inc()
}

func (m *Metrics) ObserveReconcile(kind string) {
	if m == nil {
		return
	}
	m.Reconciles.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingTrades.Set(float64(n))
}
