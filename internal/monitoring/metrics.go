package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rental_settlements_total",
		Help: "Settlement attempts by outcome.",
	}, []string{"outcome"})

	RefundedUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_refunded_units_total",
		Help: "Currency units refunded to lessees.",
	})

	LessorPaidUnitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rental_lessor_paid_units_total",
		Help: "Currency units credited to lessors on early termination.",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// GinMetrics records request counts and latency per route.
func GinMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
