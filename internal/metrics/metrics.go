package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tazhibayda/auth-api/internal/domain"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"route", "method", "status"},
	)
	ReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
	InFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "http_in_flight_requests", Help: "In-flight HTTP requests"},
	)
	AuthOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_operations_total", Help: "Auth operations by outcome"},
		[]string{"op", "result"},
	)
	MailDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mail_dispatch_total", Help: "Outbound emails by outcome"},
		[]string{"transport", "result"},
	)
)

func MustRegister() {
	prometheus.MustRegister(RequestsTotal, ReqDuration, InFlight, AuthOps, MailDispatch)
}

// ObserveAuth counts one auth operation; result is "ok" or the error kind.
func ObserveAuth(op string, err error) {
	result := "ok"
	if err != nil {
		result = domain.KindOf(err).String()
	}
	AuthOps.WithLabelValues(op, result).Inc()
}

func ObserveMail(transport string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	MailDispatch.WithLabelValues(transport, result).Inc()
}

// Middleware records request count, latency and in-flight gauge per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		InFlight.Inc()
		start := time.Now()
		c.Next()
		InFlight.Dec()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		RequestsTotal.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		ReqDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}
