// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Discovery metrics
	PoolsScanned      prometheus.Counter
	PoolCacheHits     prometheus.Counter
	PoolDecodeErrors  prometheus.Counter

	// Pricing metrics
	PricesComputed      *prometheus.CounterVec
	PoolsExcluded       *prometheus.CounterVec
	SecurePriceFallback prometheus.Counter

	// Quote metrics
	QuotesGenerated prometheus.Counter
	QuoteErrors     *prometheus.CounterVec

	// Trade metrics
	TradesSubmitted   *prometheus.CounterVec
	TradeRetries      prometheus.Counter
	ConfirmationTime  prometheus.Histogram

	// Streaming metrics
	PriceUpdatesPublished prometheus.Counter
	UpdatesDropped        prometheus.Counter
	ActiveSubscriptions   prometheus.Gauge
	StreamReconnects      prometheus.Counter

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "amm_client"
	}

	return &Metrics{
		// Discovery metrics
		PoolsScanned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pools",
			Name:      "scanned_total",
			Help:      "Total number of pool accounts scanned",
		}),
		PoolCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pools",
			Name:      "cache_hits_total",
			Help:      "Total number of pool reads served from cache",
		}),
		PoolDecodeErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pools",
			Name:      "decode_errors_total",
			Help:      "Total number of pool accounts that failed to decode",
		}),

		// Pricing metrics
		PricesComputed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "prices_computed_total",
			Help:      "Total number of prices computed by kind",
		}, []string{"kind"}),
		PoolsExcluded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "pools_excluded_total",
			Help:      "Total number of pools excluded from secure price by reason",
		}, []string{"reason"}),
		SecurePriceFallback: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "secure_price_fallback_total",
			Help:      "Total number of secure price requests that fell back to best effort",
		}),

		// Quote metrics
		QuotesGenerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "generated_total",
			Help:      "Total number of quotes generated",
		}),
		QuoteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote",
			Name:      "errors_total",
			Help:      "Total number of quote failures by reason",
		}, []string{"reason"}),

		// Trade metrics
		TradesSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "submitted_total",
			Help:      "Total number of trade submissions by outcome",
		}, []string{"status"}),
		TradeRetries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "retries_total",
			Help:      "Total number of trade submission retries",
		}),
		ConfirmationTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "trade",
			Name:      "confirmation_seconds",
			Help:      "Time from submission to confirmation in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		// Streaming metrics
		PriceUpdatesPublished: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "price_updates_published_total",
			Help:      "Total number of price updates published to subscribers",
		}),
		UpdatesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "updates_dropped_total",
			Help:      "Total number of updates dropped due to slow consumers",
		}),
		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "active_subscriptions",
			Help:      "Current number of active price subscriptions",
		}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "stream_reconnects_total",
			Help:      "Total number of stream reconnect attempts",
		}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rpc_call_latency_seconds",
			Help:      "JSON-RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// Package-level shortcuts for the hot paths.
var (
	PoolsScanned          = DefaultMetrics.PoolsScanned
	QuotesGenerated       = DefaultMetrics.QuotesGenerated
	PriceUpdatesPublished = DefaultMetrics.PriceUpdatesPublished
	UpdatesDropped        = DefaultMetrics.UpdatesDropped
	ActiveSubscriptions   = DefaultMetrics.ActiveSubscriptions
	StreamReconnects      = DefaultMetrics.StreamReconnects
)

// RecordPriceComputed increments the computed-price counter for a kind,
// "current" or "secure".
func RecordPriceComputed(kind string) {
	DefaultMetrics.PricesComputed.WithLabelValues(kind).Inc()
}

// RecordPoolExcluded counts a pool excluded from the secure price,
// reason "low_liquidity" or "outlier".
func RecordPoolExcluded(reason string) {
	DefaultMetrics.PoolsExcluded.WithLabelValues(reason).Inc()
}

// RecordQuoteError counts a failed quote by reason.
func RecordQuoteError(reason string) {
	DefaultMetrics.QuoteErrors.WithLabelValues(reason).Inc()
}

// RecordTradeSubmitted counts a trade submission outcome.
func RecordTradeSubmitted(status string) {
	DefaultMetrics.TradesSubmitted.WithLabelValues(status).Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
