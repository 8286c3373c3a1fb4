package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SalesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sales_total",
			Help: "Total number of committed sales",
		},
		[]string{"sale_type"},
	)

	SaleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_sale_failures_total",
			Help: "Total number of rejected or rolled back sales",
		},
		[]string{"reason"},
	)

	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_payments_total",
			Help: "Payment records by method and resulting status",
		},
		[]string{"method", "status"},
	)

	ReconciliationRequired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_reconciliation_required_total",
			Help: "Committed sales whose follow-up step failed and need manual reconciliation",
		},
		[]string{"reason"},
	)

	DebtPayments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pos_debt_payments_total",
			Help: "Total number of applied customer debt payments",
		},
	)

	SaleAmount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pos_sale_amount",
			Help:    "Payable amount per committed sale",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		SalesTotal,
		SaleFailures,
		PaymentsTotal,
		ReconciliationRequired,
		DebtPayments,
		SaleAmount,
		httpRequests,
		httpLatency,
	)
}

// Middleware records request counts and latency per route template.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
