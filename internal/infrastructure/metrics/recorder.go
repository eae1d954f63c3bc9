// Package metrics publica en Prometheus los resultados del ciclo de vida de comprobantes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/comprobantes-sri/internal/application/billing"
)

const namespace = "comprobantes_sri"

var _ billing.Recorder = (*Recorder)(nil)

// Recorder implementa billing.Recorder sobre un registry propio.
type Recorder struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	anomalies    *prometheus.CounterVec
	breakerState prometheus.Gauge
}

// NewRecorder registra las métricas y los collectors de proceso y runtime.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operaciones del ciclo de vida por resultado.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duración de las operaciones del ciclo de vida.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "anomalies_total",
			Help:      "Situaciones que requieren revisión de un operador.",
		}, []string{"kind"}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sri_breaker_state",
			Help:      "Estado del circuit breaker hacia el SRI (0 cerrado, 1 abierto, 2 semiabierto).",
		}),
	}
	r.registry.MustRegister(
		r.operations, r.duration, r.anomalies, r.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveOperation cuenta el resultado y registra la duración.
func (r *Recorder) ObserveOperation(op, outcome string, elapsed time.Duration) {
	r.operations.WithLabelValues(op, outcome).Inc()
	r.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// IncAnomaly cuenta una anomalía (p. ej. autorización duplicada).
func (r *Recorder) IncAnomaly(kind string) {
	r.anomalies.WithLabelValues(kind).Inc()
}

// SetBreakerState publica el estado numérico del breaker.
func (r *Recorder) SetBreakerState(state int) {
	r.breakerState.Set(float64(state))
}

// Registry expone el registry (tests y handlers).
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler devuelve el handler HTTP de exposición.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
