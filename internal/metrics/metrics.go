// Package metrics exposes squeezewatch's Prometheus instrumentation.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "squeezewatch"

// Metrics holds every collector registered by New.
type Metrics struct {
	ticks         *prometheus.CounterVec
	scoreFetches  *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	notifications *prometheus.CounterVec
	persistErrors *prometheus.CounterVec
	batchDuration prometheus.Histogram
	watchlistSize prometheus.Gauge
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome (admitted, gated).",
		}, []string{"result"}),
		scoreFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_fetch_total",
			Help:      "Score fetches by result (ok or the failure reason).",
		}, []string{"result"}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts emitted by severity.",
		}, []string{"severity"}),
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
		persistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed persistence operations by op.",
		}, []string{"op"}),
		batchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one evaluation batch.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		watchlistSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchlist_items",
			Help:      "Number of watched tickers.",
		}),
	}
}

// Tick counts a scheduler tick.
func (m *Metrics) Tick(admitted bool) {
	if m == nil {
		return
	}
	result := "admitted"
	if !admitted {
		result = "gated"
	}
	m.ticks.WithLabelValues(result).Inc()
}

// ScoreFetch counts a fetch; result is "ok" or a failure reason.
func (m *Metrics) ScoreFetch(result string) {
	if m == nil {
		return
	}
	m.scoreFetches.WithLabelValues(result).Inc()
}

// Alert counts an emitted alert.
func (m *Metrics) Alert(severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(severity).Inc()
}

// Notification counts a delivery attempt on channel.
func (m *Metrics) Notification(channel string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.notifications.WithLabelValues(channel, result).Inc()
}

// PersistError counts a failed save or load.
func (m *Metrics) PersistError(op string) {
	if m == nil {
		return
	}
	m.persistErrors.WithLabelValues(op).Inc()
}

// BatchDuration observes one batch.
func (m *Metrics) BatchDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// WatchlistSize sets the watched ticker gauge.
func (m *Metrics) WatchlistSize(n int) {
	if m == nil {
		return
	}
	m.watchlistSize.Set(float64(n))
}
