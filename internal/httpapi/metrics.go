package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registryAgentsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentledger_agents_total",
		Help: "Number of live registered agents.",
	})

	registryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	registryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	registryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentledger_events_total",
		Help: "Event log appends by event type.",
	}, []string{"type"})

	registrySignatureChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentledger_signature_checks_total",
		Help: "Signature verifications by outcome.",
	}, []string{"outcome"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		registryRequestsTotal.WithLabelValues(method, path, status).Inc()
		registryRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordEvent records one event-log append of the given type.
func RecordEvent(eventType string) {
	registryEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordSignatureCheck records a signature verification outcome.
func RecordSignatureCheck(ok bool) {
	if ok {
		registrySignatureChecks.WithLabelValues("valid").Inc()
	} else {
		registrySignatureChecks.WithLabelValues("invalid").Inc()
	}
}

// SetAgentsGauge sets the live agent count gauge.
func SetAgentsGauge(count float64) {
	registryAgentsTotal.Set(count)
}
