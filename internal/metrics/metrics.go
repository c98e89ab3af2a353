// Package metrics holds the Prometheus collectors exposed at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the application's collectors over one registry.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
	Recategorized   *prometheus.CounterVec
	BalanceSeverity *prometheus.GaugeVec
	BalanceChanges  *prometheus.CounterVec
	InsightRequests *prometheus.CounterVec
	ImportedRows    *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saldo",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status code.",
		}, []string{"route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "saldo",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Recategorized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saldo",
			Name:      "recategorized_transactions_total",
			Help:      "Transactions processed by bulk recategorization, by outcome.",
		}, []string{"outcome"}),
		BalanceSeverity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "saldo",
			Name:      "balance_severity",
			Help:      "Severity of the last reconciliation; the current severity reads 1.",
		}, []string{"severity"}),
		BalanceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saldo",
			Name:      "balance_changes_total",
			Help:      "Audited balance mutations by reason.",
		}, []string{"reason"}),
		InsightRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saldo",
			Name:      "insight_requests_total",
			Help:      "LLM insight attempts by provider and result.",
		}, []string{"provider", "result"}),
		ImportedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "saldo",
			Name:      "imported_rows_total",
			Help:      "Imported statement rows by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration, m.Recategorized, m.BalanceSeverity,
		m.BalanceChanges, m.InsightRequests, m.ImportedRows,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveHTTP records one finished request. Safe on a nil receiver.
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// AddRecategorized records bulk outcome counts. Safe on a nil receiver.
func (m *Metrics) AddRecategorized(updated, unchanged, overridden, failed int) {
	if m == nil {
		return
	}
	m.Recategorized.WithLabelValues("updated").Add(float64(updated))
	m.Recategorized.WithLabelValues("unchanged").Add(float64(unchanged))
	m.Recategorized.WithLabelValues("overridden").Add(float64(overridden))
	m.Recategorized.WithLabelValues("failed").Add(float64(failed))
}

// SetBalanceSeverity publishes the severity of the latest reconciliation. Only
// that severity's series remains. Safe on a nil receiver.
func (m *Metrics) SetBalanceSeverity(severity string) {
	if m == nil {
		return
	}
	m.BalanceSeverity.Reset()
	m.BalanceSeverity.WithLabelValues(severity).Set(1)
}

// BalanceChanged counts one audited balance mutation. Safe on a nil receiver.
func (m *Metrics) BalanceChanged(reason string) {
	if m == nil {
		return
	}
	m.BalanceChanges.WithLabelValues(reason).Inc()
}

// Insight counts one provider attempt. Safe on a nil receiver.
func (m *Metrics) Insight(provider, result string) {
	if m == nil {
		return
	}
	m.InsightRequests.WithLabelValues(provider, result).Inc()
}

// Imported counts imported rows by outcome. Safe on a nil receiver.
func (m *Metrics) Imported(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportedRows.WithLabelValues(outcome).Add(float64(n))
}
