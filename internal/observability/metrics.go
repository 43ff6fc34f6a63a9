package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the voice pipeline.
type Metrics struct {
	PipelineEvents   *prometheus.CounterVec
	EngineErrors     *prometheus.CounterVec
	Listening        prometheus.Gauge
	ModelLoadSeconds *prometheus.HistogramVec
	StageSeconds     *prometheus.HistogramVec
}

// NewMetrics registers instruments on the default registerer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers instruments on reg; tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PipelineEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_events_total",
			Help:      "Voice pipeline events by type.",
		}, []string{"event"}),
		EngineErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Engine failures by engine and code.",
		}, []string{"engine", "code"}),
		Listening: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while a capture session is open.",
		}),
		ModelLoadSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_load_seconds",
			Help:      "Engine model load duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"engine"}),
		StageSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_seconds",
			Help:      "Pipeline stage duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"stage"}),
	}
}

func (m *Metrics) Event(name string) {
	if m == nil {
		return
	}
	m.PipelineEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) EngineError(engine, code string) {
	if m == nil {
		return
	}
	m.EngineErrors.WithLabelValues(engine, code).Inc()
}

func (m *Metrics) SetListening(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Listening.Set(1)
	} else {
		m.Listening.Set(0)
	}
}

func (m *Metrics) ObserveModelLoad(engine string, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelLoadSeconds.WithLabelValues(engine).Observe(d.Seconds())
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
