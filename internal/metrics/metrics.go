package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Operation outcomes.
const (
	OutcomeOK           = "ok"
	OutcomeNotFound     = "not_found"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalidState = "invalid_state"
	OutcomeError        = "error"
)

// Recorder counts escrow operations by outcome. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	created    prometheus.Gauge
}

// NewRecorder builds a Recorder on its own registry, together with the Go
// runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "escrow",
			Name:      "operation_duration_seconds",
			Help:      "Latency of escrow operations including the store transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		created: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "escrow",
			Name:      "agreements_created",
			Help:      "Value of the persisted creation counter after the last committed create.",
		}),
	}
	reg.MustRegister(
		r.operations,
		r.latency,
		r.created,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe records one finished operation.
func (r *Recorder) Observe(operation, outcome string, started time.Time) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(operation, outcome).Inc()
	r.latency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// SetCreated mirrors the store's creation counter.
func (r *Recorder) SetCreated(n uint32) {
	if r == nil {
		return
	}
	r.created.Set(float64(n))
}

func (r *Recorder) Operations() *prometheus.CounterVec {
	return r.operations
}

// Handler exposes the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
