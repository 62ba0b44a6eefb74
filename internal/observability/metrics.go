package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_http_requests_total",
			Help: "Total number of HTTP requests processed by the service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketplace_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_request_queue_depth",
			Help: "Number of tasks waiting in the request queue.",
		},
	)
	queueTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_request_queue_tasks_total",
			Help: "Total number of settled queue tasks by outcome.",
		},
		[]string{"outcome"},
	)
	queueRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_request_queue_retries_total",
			Help: "Total number of scheduled task retries.",
		},
	)
	queueDedupTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_request_queue_dedup_total",
			Help: "Total number of enqueues collapsed onto a pending task.",
		},
	)
	transportConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_transport_connected",
			Help: "Whether the live channel is currently connected.",
		},
	)
	transportEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_transport_events_total",
			Help: "Total number of live-channel events.",
		},
		[]string{"kind", "event"},
	)
	pendingMessages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketplace_pending_messages",
			Help: "Messages buffered for replay while the live channel is down.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketplace_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		queueDepth,
		queueTasksTotal,
		queueRetriesTotal,
		queueDedupTotal,
		transportConnected,
		transportEventsTotal,
		pendingMessages,
		amqpPublishErrorsTotal,
	)
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func IncQueueTask(outcome string) {
	queueTasksTotal.WithLabelValues(outcome).Inc()
}

func IncQueueRetry() {
	queueRetriesTotal.Inc()
}

func IncQueueDedup() {
	queueDedupTotal.Inc()
}

func SetTransportConnected(connected bool) {
	if connected {
		transportConnected.Set(1)
		return
	}
	transportConnected.Set(0)
}

func IncTransportEvent(kind, event string) {
	transportEventsTotal.WithLabelValues(kind, event).Inc()
}

func SetPendingMessages(n int) {
	pendingMessages.Set(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
