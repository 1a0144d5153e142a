package observability

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/sitegen-backend/internal/platform/logger"
)

// Metrics holds the pipeline's Prometheus collectors. All methods are safe on
// a nil receiver so components can run with metrics disabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests   *prometheus.CounterVec
	apiLatency    *prometheus.HistogramVec
	apiInflight   prometheus.Gauge
	webhooks      *prometheus.CounterVec
	queueMessages *prometheus.CounterVec
	generation    *prometheus.CounterVec
	genDuration   prometheus.Histogram
	operations    *prometheus.CounterVec
	images        *prometheus.CounterVec
	imageBytes    prometheus.Counter
	publish       *prometheus.CounterVec
	templateCache *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	current     *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("METRICS_ENABLED")))
	return v != "0" && v != "false" && v != "no" && v != "off"
}

// Current returns the process metrics, or nil before Init.
func Current() *Metrics { return current }

// Init builds the process-wide metrics once. It returns nil when disabled.
func Init(log *logger.Logger) *Metrics {
	metricsOnce.Do(func() {
		if !Enabled() {
			if log != nil {
				log.Info("metrics disabled")
			}
			return
		}
		current = New()
	})
	return current
}

// New builds metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{registry: reg}
	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "api", Name: "requests_total", Help: "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})
	m.apiLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitegen", Subsystem: "api", Name: "request_duration_seconds", Help: "HTTP request latency.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"method", "route"})
	m.apiInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sitegen", Subsystem: "api", Name: "inflight_requests", Help: "HTTP requests in flight.",
	})
	m.webhooks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "ingestion", Name: "webhooks_total", Help: "Webhook deliveries by source and outcome.",
	}, []string{"source", "outcome"})
	m.queueMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "queue", Name: "messages_total", Help: "Queue messages by backend and outcome.",
	}, []string{"backend", "outcome"})
	m.generation = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "generation", Name: "attempts_total", Help: "Generation attempts by outcome.",
	}, []string{"outcome"})
	m.genDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitegen", Subsystem: "generation", Name: "duration_seconds", Help: "End-to-end orchestrator run time.",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	})
	m.operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "orchestrator", Name: "runs_total", Help: "Orchestrator runs by terminal state.",
	}, []string{"state"})
	m.images = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "images", Name: "processed_total", Help: "Embedded images by outcome.",
	}, []string{"outcome"})
	m.imageBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "images", Name: "uploaded_bytes_total", Help: "Bytes uploaded for images.",
	})
	m.publish = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "publish", Name: "writes_total", Help: "Publish writes by target and outcome.",
	}, []string{"target", "outcome"})
	m.templateCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen", Subsystem: "template_cache", Name: "lookups_total", Help: "Template cache lookups.",
	}, []string{"kind", "result"})

	for _, c := range []prometheus.Collector{
		m.apiRequests, m.apiLatency, m.apiInflight, m.webhooks, m.queueMessages, m.generation,
		m.genDuration, m.operations, m.images, m.imageBytes, m.publish, m.templateCache,
	} {
		reg.MustRegister(c)
	}
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) IncQueueMessage(backend, outcome string) {
	if m == nil {
		return
	}
	m.queueMessages.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) IncGenerationAttempt(outcome string) {
	if m == nil {
		return
	}
	m.generation.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRun(state string, dur time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(state).Inc()
	m.genDuration.Observe(dur.Seconds())
}

func (m *Metrics) IncImage(outcome string, uploadedBytes int) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(outcome).Inc()
	if uploadedBytes > 0 {
		m.imageBytes.Add(float64(uploadedBytes))
	}
}

func (m *Metrics) IncPublish(target, outcome string) {
	if m == nil {
		return
	}
	m.publish.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) IncTemplateCache(kind, result string) {
	if m == nil {
		return
	}
	m.templateCache.WithLabelValues(kind, result).Inc()
}
