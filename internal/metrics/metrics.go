// Package metrics provides Prometheus metrics for the TCG portfolio service.
// Scrape these at /metrics for Grafana dashboards and alerting.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcg_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Search Metrics
	SourceQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tcg_source_query_duration_seconds",
			Help:    "Catalog source query latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"source"},
	)

	SourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_source_failures_total",
			Help: "Catalog source failures by reason",
		},
		[]string{"source", "reason"}, // reason: "timeout", "unavailable", "loading"
	)

	ResultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_result_cache_hits_total",
			Help: "Result cache hit count",
		},
	)

	ResultCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_result_cache_misses_total",
			Help: "Result cache miss count",
		},
	)

	ResultCachePurges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_result_cache_purges_total",
			Help: "Number of wholesale result cache invalidations",
		},
	)

	FacetMemoHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_facet_memo_hits_total",
			Help: "Facet count memo hit count",
		},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_browse_sessions_active",
			Help: "Number of live browse sessions",
		},
	)

	// Order Metrics
	CommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_order_commits_total",
			Help: "Order batch commits by result",
		},
		[]string{"result"}, // "success", "validation", "conflict", "identity", "error"
	)

	CommittedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_order_lines_committed_total",
			Help: "Total number of ledger rows written by commits",
		},
	)

	// Ledger Metrics
	LedgerItemsHeld = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_ledger_items_held",
			Help: "Total quantity of unsold items across every rebuilt user ledger",
		},
	)

	LedgerValueUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_ledger_value_usd",
			Help: "Current value of unsold holdings across every rebuilt user ledger in USD",
		},
	)

	LedgerCostBasisUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_ledger_cost_basis_usd",
			Help: "Total paid for unsold holdings across every rebuilt user ledger in USD",
		},
	)

	// Price Import Metrics
	PriceUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tcg_price_updates_total",
			Help: "Total number of card prices upserted",
		},
	)

	PriceQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_price_queue_size",
			Help: "Number of cards queued for an urgent price refresh",
		},
	)

	PriceBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tcg_price_batch_duration_seconds",
			Help:    "Time to fetch and store one price feed batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PriceFeedQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tcg_price_feed_quota_remaining",
			Help: "Price feed requests left today",
		},
	)

	SnapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tcg_value_snapshots_total",
			Help: "Daily value snapshots by result",
		},
		[]string{"result"},
	)
)

// GinMiddleware records request counts and latency by route template
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
