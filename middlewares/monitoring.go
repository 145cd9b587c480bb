package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_service_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_service_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_service_webhook_events_total",
			Help: "Payment events by type and orchestration outcome",
		},
		[]string{"type", "outcome"},
	)

	fulfillmentSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_service_fulfillment_submissions_total",
			Help: "Fulfillment submissions by outcome",
		},
		[]string{"outcome"},
	)

	inconsistentStates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_service_inconsistent_state_total",
			Help: "Remote submissions that could not be recorded locally",
		},
	)

	catalogProducts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_service_catalog_sync_products_total",
			Help: "Catalog items processed by sync result",
		},
		[]string{"result"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_service_upstream_request_duration_seconds",
			Help:    "Duration of calls to external providers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "operation", "status"},
	)
)

// PrometheusMiddleware 收集 Prometheus 指标
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()

		httpRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)
	}
}

func RecordWebhookEvent(eventType, outcome string) {
	webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func RecordFulfillmentSubmission(outcome string) {
	fulfillmentSubmissions.WithLabelValues(outcome).Inc()
}

func RecordInconsistentState() {
	inconsistentStates.Inc()
}

func RecordCatalogProduct(result string) {
	catalogProducts.WithLabelValues(result).Inc()
}

// RecordUpstreamCall 记录外部服务调用耗时; status 为 HTTP 状态码或 "error"
func RecordUpstreamCall(provider, operation, status string, started time.Time) {
	upstreamDuration.WithLabelValues(provider, operation, status).Observe(time.Since(started).Seconds())
}
