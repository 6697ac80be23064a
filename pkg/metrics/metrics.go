// Package metrics exposes Prometheus collectors for the replication engine.
// A Recorder owns its own registry rather than reaching for the global
// prometheus.DefaultRegisterer, so multiple Recorders can coexist in the
// same test binary without a "duplicate metrics collector registration"
// panic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder wraps the collectors this binary reports.
type Recorder struct {
	registry *prometheus.Registry

	syncsTotal        *prometheus.CounterVec
	syncDuration      *prometheus.HistogramVec
	rowsProcessed     *prometheus.CounterVec
	queueLength       prometheus.Gauge
	circuitState      *prometheus.GaugeVec
	gatewayCallErrors *prometheus.CounterVec
}

// New builds a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	namespace := "replicator"

	r := &Recorder{
		registry: reg,
		syncsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Completed sync runs by kind and terminal status.",
		}, []string{"kind", "status"}),
		syncDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Wall-clock duration of a sync run by kind.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		}, []string{"kind"}),
		rowsProcessed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_processed_total",
			Help:      "Rows inserted, updated, or deleted by a sync run, by kind.",
		}, []string{"kind"}),
		queueLength: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Companies remaining in the sync queue, including the one currently running.",
		}),
		circuitState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "RetryCircuit breaker state by dependency name: 0=closed, 1=half-open, 2=open.",
		}, []string{"dependency"}),
		gatewayCallErrors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_call_errors_total",
			Help:      "Gateway calls that ultimately failed, by error kind.",
		}, []string{"kind"}),
	}
	return r
}

// ObserveSync records one completed sync run's kind, terminal status, and
// duration.
func (r *Recorder) ObserveSync(kind, status string, d time.Duration) {
	r.syncsTotal.WithLabelValues(kind, status).Inc()
	r.syncDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddRowsProcessed accumulates the row count a sync run touched.
func (r *Recorder) AddRowsProcessed(kind string, rows int) {
	if rows <= 0 {
		return
	}
	r.rowsProcessed.WithLabelValues(kind).Add(float64(rows))
}

// SetQueueLength reports how many items remain in a SyncQueue.
func (r *Recorder) SetQueueLength(n int) {
	r.queueLength.Set(float64(n))
}

// SetCircuitState reports a RetryCircuit breaker's gobreaker.State as a
// gauge, so a dashboard can alert on a dependency sitting open.
func (r *Recorder) SetCircuitState(dependency string, state int) {
	r.circuitState.WithLabelValues(dependency).Set(float64(state))
}

// IncGatewayCallError counts a failed Gateway call by its syncerr.Kind.
func (r *Recorder) IncGatewayCallError(kind string) {
	r.gatewayCallErrors.WithLabelValues(kind).Inc()
}

// Handler serves this Recorder's registry in the Prometheus exposition
// format, mounted by the CLI entrypoint's optional HTTP surface.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
