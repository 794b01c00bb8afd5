// Package metrics provides Prometheus instrumentation for the chainscore engine.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainscore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScoreComputationsTotal counts wallet score computations by mode
	// (live signals vs address-derived estimate).
	ScoreComputationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "score_computations_total",
			Help:      "Wallet score computations by mode (live, estimated).",
		},
		[]string{"mode"},
	)

	// WalletLinksTotal counts wallet link attempts by result.
	WalletLinksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "wallet_links_total",
			Help:      "Wallet link attempts by result (linked, already_linked, conflict, invalid, error).",
		},
		[]string{"result"},
	)

	// AttestationsTotal counts attestation requests by final state.
	AttestationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "attestations_total",
			Help:      "Attestation requests by terminal state (complete, failed).",
		},
		[]string{"state"},
	)

	// AttestationSourceDuration observes latency of the external bureau fetch.
	AttestationSourceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "chainscore",
			Name:      "attestation_source_duration_seconds",
			Help:      "External attestation source fetch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// CompositeRecomputesTotal counts composite score recomputations.
	CompositeRecomputesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "composite_recomputes_total",
			Help:      "Total composite score recomputations.",
		},
	)

	// DegradedWritesTotal counts writes that fell back to the volatile backend.
	DegradedWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainscore",
			Name:      "degraded_writes_total",
			Help:      "Writes served by the volatile backend after a durable-backend failure.",
		},
		[]string{"op"},
	)

	// PortfoliosGauge tracks the number of registered portfolios.
	PortfoliosGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "portfolios",
		Help: "Number of registered user portfolios.",
	})
	// LinkedWalletsGauge tracks the number of linked wallets system-wide.
	LinkedWalletsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "linked_wallets",
		Help: "Number of linked wallets across all portfolios.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainscore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScoreComputationsTotal,
		WalletLinksTotal,
		AttestationsTotal,
		AttestationSourceDuration,
		CompositeRecomputesTotal,
		DegradedWritesTotal,
		PortfoliosGauge,
		LinkedWalletsGauge,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
