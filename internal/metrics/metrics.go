package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exported by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	pipelineDuration  *prometheus.HistogramVec
	pipelineFailures  *prometheus.CounterVec
	inferenceInFlight prometheus.Gauge
	inferenceRejected prometheus.Counter
	speechFailures    prometheus.Counter
}

// New creates the collectors on a private registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visual_assistant",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visual_assistant",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"route"}),
		pipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visual_assistant",
			Name:      "pipeline_duration_seconds",
			Help:      "Engine call latency by job.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"job"}),
		pipelineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visual_assistant",
			Name:      "pipeline_failures_total",
			Help:      "Failed workflow runs by job and error kind.",
		}, []string{"job", "kind"}),
		inferenceInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "visual_assistant",
			Name:      "inference_in_flight",
			Help:      "Engine calls currently holding a pool slot.",
		}),
		inferenceRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visual_assistant",
			Name:      "inference_rejected_total",
			Help:      "Engine calls rejected because the pool stayed full.",
		}),
		speechFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visual_assistant",
			Name:      "speech_failures_total",
			Help:      "Speech synthesis failures after a successful pipeline.",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.pipelineDuration,
		m.pipelineFailures,
		m.inferenceInFlight,
		m.inferenceRejected,
		m.speechFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTP records one completed request
func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObservePipeline records the duration of one successful workflow run
func (m *Metrics) ObservePipeline(job string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pipelineDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// PipelineFailed counts a failed workflow run
func (m *Metrics) PipelineFailed(job, kind string) {
	if m == nil {
		return
	}
	m.pipelineFailures.WithLabelValues(job, kind).Inc()
}

// InferenceStarted marks a pool slot as taken
func (m *Metrics) InferenceStarted() {
	if m == nil {
		return
	}
	m.inferenceInFlight.Inc()
}

// InferenceFinished releases a pool slot
func (m *Metrics) InferenceFinished() {
	if m == nil {
		return
	}
	m.inferenceInFlight.Dec()
}

// InferenceRejected counts a call turned away by the pool
func (m *Metrics) InferenceRejected() {
	if m == nil {
		return
	}
	m.inferenceRejected.Inc()
}

// SpeechFailed counts a synthesis failure
func (m *Metrics) SpeechFailed() {
	if m == nil {
		return
	}
	m.speechFailures.Inc()
}
