package metrics

import (
	"strconv"
	"time"

	"tchat-server/internal/automation"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the Prometheus collectors of the server.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge

	triggerEvaluations *prometheus.CounterVec
	triggerExecutions  *prometheus.CounterVec
	triggerFailures    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tchat_http_requests_total",
				Help: "Total count of HTTP requests received.",
			},
			[]string{"method", "path", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tchat_http_request_duration_seconds",
				Help:    "Histogram of request durations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tchat_http_inflight_requests",
			Help: "Number of requests currently being handled.",
		}),
		triggerEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tchat_trigger_evaluations_total",
				Help: "Triggers evaluated against visitor messages.",
			},
			[]string{"type", "matched"},
		),
		triggerExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tchat_trigger_executions_total",
				Help: "Triggers whose actions were executed.",
			},
			[]string{"type", "success"},
		),
		triggerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tchat_trigger_failures_total",
				Help: "Swallowed trigger engine failures by stage.",
			},
			[]string{"stage"},
		),
	}

	m.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		m.requests, m.duration, m.inFlight,
		m.triggerEvaluations, m.triggerExecutions, m.triggerFailures,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records request counts and durations. Paths use the route
// template to keep label cardinality bounded.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := []string{c.Request.Method, path, strconv.Itoa(c.Writer.Status())}
		m.requests.WithLabelValues(labels...).Inc()
		m.duration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	}
}

// typeLabel folds unknown trigger types into one label value.
func typeLabel(t string) string {
	if automation.TriggerType(t).Known() {
		return t
	}
	return "other"
}

func (m *Metrics) TriggerEvaluated(triggerType string, matched bool) {
	m.triggerEvaluations.WithLabelValues(typeLabel(triggerType), strconv.FormatBool(matched)).Inc()
}

func (m *Metrics) TriggerExecuted(triggerType string, success bool) {
	m.triggerExecutions.WithLabelValues(typeLabel(triggerType), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) EvaluationFailed(stage string) {
	m.triggerFailures.WithLabelValues(stage).Inc()
}

var _ automation.Observer = (*Metrics)(nil)
