package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	SessionsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbt_sessions_started_total",
			Help: "Test sessions started or resumed",
		},
		[]string{"kind"}, // new | resumed
	)

	SessionsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbt_sessions_finalized_total",
			Help: "Test sessions moved to a terminal status",
		},
		[]string{"status"},
	)

	AnswersSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbt_answers_saved_total",
			Help: "Autosave attempts by outcome",
		},
		[]string{"outcome"}, // stored | not_active | invalid
	)

	ResultJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbt_result_jobs_total",
			Help: "Result calculations by outcome",
		},
		[]string{"outcome"}, // ok | retry | dropped
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			SessionsStarted,
			SessionsFinalized,
			AnswersSaved,
			ResultJobs,
		)
	})
}

// Middleware records request counts and latencies by route template, so
// session tokens in paths never become label values.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
