// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Source metrics
	FetchesTotal      *prometheus.CounterVec
	FetchErrors       *prometheus.CounterVec
	FetchLatency      *prometheus.HistogramVec
	ListingsFetched   *prometheus.CounterVec
	CircuitState      *prometheus.GaugeVec
	ProxiesInPool     prometheus.Gauge
	ProxiesQuarantine prometheus.Gauge

	// Pipeline metrics
	ListingsNormalized    *prometheus.CounterVec
	NormalizationFailures *prometheus.CounterVec
	ListingsUnmatched     *prometheus.CounterVec
	BlacklistRejections   *prometheus.CounterVec
	ConditionsClassified  *prometheus.CounterVec
	CyclesTotal           *prometheus.CounterVec
	CycleDuration         *prometheus.HistogramVec

	// Deal metrics
	DealsCreated       *prometheus.CounterVec
	DealsUpdated       *prometheus.CounterVec
	DealsSwept         prometheus.Counter
	DealsUnscored      *prometheus.CounterVec
	FallbackValuations *prometheus.CounterVec

	// Market value metrics
	SamplesAccepted prometheus.Counter
	SamplesRejected *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
	CacheErrors     *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle *prometheus.GaugeVec
	WSSubscribers       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dealscout"
	}

	return &Metrics{
		// Source metrics
		FetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetches_total",
			Help:      "Total number of fetch cycles by source and status",
		}, []string{"source", "status"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_errors_total",
			Help:      "Total number of fetch errors by source and kind",
		}, []string{"source", "kind"}),
		FetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_latency_seconds",
			Help:      "Fetch cycle latency in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"source"}),
		ListingsFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "listings_fetched_total",
			Help:      "Total number of raw listings fetched by source",
		}, []string{"source"}),
		CircuitState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "circuit_open",
			Help:      "1 when the source circuit is open, 0 otherwise",
		}, []string{"source"}),
		ProxiesInPool: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "proxies_available",
			Help:      "Number of proxies currently available in the pool",
		}),
		ProxiesQuarantine: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "proxies_quarantined",
			Help:      "Number of proxies currently quarantined",
		}),

		// Pipeline metrics
		ListingsNormalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "listings_normalized_total",
			Help:      "Total number of listings normalized by source",
		}, []string{"source"}),
		NormalizationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "normalization_failures_total",
			Help:      "Total number of listings dropped during normalization",
		}, []string{"source"}),
		ListingsUnmatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "listings_unmatched_total",
			Help:      "Total number of listings that matched no catalog card",
		}, []string{"source"}),
		BlacklistRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "blacklist_rejections_total",
			Help:      "Total number of listings rejected by category",
		}, []string{"category"}),
		ConditionsClassified: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "conditions_classified_total",
			Help:      "Total number of condition classifications by grade",
		}, []string{"condition"}),
		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycles_total",
			Help:      "Total number of pipeline cycles by source and status",
		}, []string{"source", "status"}),
		CycleDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "cycle_duration_seconds",
			Help:      "Pipeline cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"source"}),

		// Deal metrics
		DealsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "created_total",
			Help:      "Total number of new deals recorded by source",
		}, []string{"source"}),
		DealsUpdated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "updated_total",
			Help:      "Total number of deal re-sightings by source",
		}, []string{"source"}),
		DealsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "swept_total",
			Help:      "Total number of deals marked inactive by the sweeper",
		}),
		DealsUnscored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "unscored_total",
			Help:      "Total number of deals recorded without a market value",
		}, []string{"source"}),
		FallbackValuations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deals",
			Name:      "fallback_valuations_total",
			Help:      "Total number of deals scored against a fallback valuation",
		}, []string{"source"}),

		// Market value metrics
		SamplesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketvalue",
			Name:      "samples_accepted_total",
			Help:      "Total number of price samples accepted",
		}),
		SamplesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "marketvalue",
			Name:      "samples_rejected_total",
			Help:      "Total number of price samples rejected by reason",
		}, []string{"reason"}),

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
		CacheErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Total number of deal cache errors by operation",
		}, []string{"operation"}),

		// Health metrics
		LastSuccessfulCycle: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of the last successful cycle per source",
		}, []string{"source"}),
		WSSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "ws_subscribers",
			Help:      "Number of connected websocket ticker clients",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordFetch records the outcome of one fetch cycle.
func RecordFetch(source, status string, seconds float64) {
	DefaultMetrics.FetchesTotal.WithLabelValues(source, status).Inc()
	DefaultMetrics.FetchLatency.WithLabelValues(source).Observe(seconds)
}

// RecordFetchError records a classified fetch failure.
func RecordFetchError(source, kind string) {
	DefaultMetrics.FetchErrors.WithLabelValues(source, kind).Inc()
}

// SetCircuitOpen updates the circuit gauge for a source.
func SetCircuitOpen(source string, open bool) {
	v := 0.0
	if open {
		v = 1.0
	}
	DefaultMetrics.CircuitState.WithLabelValues(source).Set(v)
}

// RecordBlacklistRejection counts a rejected listing.
func RecordBlacklistRejection(category string) {
	DefaultMetrics.BlacklistRejections.WithLabelValues(category).Inc()
}

// RecordDealRecorded counts a deal create or update.
func RecordDealRecorded(source string, created bool) {
	if created {
		DefaultMetrics.DealsCreated.WithLabelValues(source).Inc()
	} else {
		DefaultMetrics.DealsUpdated.WithLabelValues(source).Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordCycle records a completed pipeline cycle.
func RecordCycle(source, status string, durationSeconds float64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(source, status).Inc()
	DefaultMetrics.CycleDuration.WithLabelValues(source).Observe(durationSeconds)
}
