package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Labels are method, matched route (raw path on 404) and status code, which
// keeps cardinality bounded by the route table.
var (
	opsReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ops_http_requests_total",
			Help: "Requests served by the ops HTTP surface.",
		},
		[]string{"method", "path", "status"},
	)
	opsLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ops_http_request_duration_seconds",
			Help:    "Latency of ops HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	opsInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ops_http_requests_inflight",
			Help: "Ops HTTP requests currently being served.",
		},
	)
)

func init() {
	prometheus.MustRegister(opsReqs, opsLat, opsInflight)
}

// Metrics records count, latency and concurrency of every request.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		opsInflight.Inc()
		defer opsInflight.Dec()

		c.Next()

		path := routeOf(c)
		opsReqs.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		opsLat.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
