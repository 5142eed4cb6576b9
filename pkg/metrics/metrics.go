// Package metrics defines the Prometheus collectors exported by the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pario-ai/querygate/pkg/models"
)

const namespace = "querygate"

// Metrics contains the gateway's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	queries            *prometheus.CounterVec
	estimatedCost      prometheus.Counter
	estimatorFallbacks prometheus.Counter
	spend              *prometheus.GaugeVec
	mode               prometheus.Gauge
	cacheLookups       *prometheus.CounterVec
	ledgerSaveFailures prometheus.Counter
	alerts             *prometheus.CounterVec
	remoteDuration     prometheus.Histogram
}

// New creates the collectors and registers them with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Queries handled by operating mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		estimatedCost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimated_cost_total",
			Help:      "Estimated spend recorded to the ledger",
		}),
		estimatorFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "estimator_fallbacks_total",
			Help:      "Dry runs that failed and were charged the fallback cost",
		}),
		spend: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "spend",
				Help:      "Current spend per budget window",
			},
			[]string{"window"},
		),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operating_mode",
			Help:      "Effective operating mode (0=normal, 1=cache_only, 2=restricted, 3=suspended)",
		}),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by result",
			},
			[]string{"result"},
		),
		ledgerSaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_save_failures_total",
			Help:      "Usage ledger writes that failed to persist",
		}),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Budget alerts emitted by severity",
			},
			[]string{"severity"},
		),
		// Remote calls are bounded by the client timeout, so buckets stop at 60s.
		remoteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_execute_seconds",
			Help:      "Latency of live remote executions",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	registry.MustRegister(
		m.queries,
		m.estimatedCost,
		m.estimatorFallbacks,
		m.spend,
		m.mode,
		m.cacheLookups,
		m.ledgerSaveFailures,
		m.alerts,
		m.remoteDuration,
	)
	return m
}

// QueryHandled counts a query outcome ("ok", "cache_hit", "rejected", "error").
func (m *Metrics) QueryHandled(mode models.OperatingMode, outcome string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(mode.String(), outcome).Inc()
}

// CostRecorded adds recorded spend.
func (m *Metrics) CostRecorded(cost float64) {
	if m == nil {
		return
	}
	m.estimatedCost.Add(cost)
}

// EstimatorFallback counts a failed dry run.
func (m *Metrics) EstimatorFallback() {
	if m == nil {
		return
	}
	m.estimatorFallbacks.Inc()
}

// ObserveSpend publishes window totals and the effective mode.
func (m *Metrics) ObserveSpend(daily, weekly, monthly float64, mode models.OperatingMode) {
	if m == nil {
		return
	}
	m.spend.WithLabelValues("daily").Set(daily)
	m.spend.WithLabelValues("weekly").Set(weekly)
	m.spend.WithLabelValues("monthly").Set(monthly)
	m.mode.Set(float64(mode))
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// LedgerSaveFailed counts a failed ledger write.
func (m *Metrics) LedgerSaveFailed() {
	if m == nil {
		return
	}
	m.ledgerSaveFailures.Inc()
}

// AlertEmitted counts an alert.
func (m *Metrics) AlertEmitted(severity models.AlertSeverity) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(string(severity)).Inc()
}

// RemoteExecuted observes a remote execution latency in seconds.
func (m *Metrics) RemoteExecuted(seconds float64) {
	if m == nil {
		return
	}
	m.remoteDuration.Observe(seconds)
}
