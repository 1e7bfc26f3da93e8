package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for the query
// layer and resolvers.
type Metrics struct {
	QueryRequests *prometheus.CounterVec   // labels: service, outcome={ok,empty,service_error,transport_error}
	QueryRetries  prometheus.Counter
	QueryDuration *prometheus.HistogramVec // labels: service
	QueryCache    *prometheus.CounterVec   // labels: result={hit,miss}

	ResolveOutcomes *prometheus.CounterVec // labels: source, outcome={found,not_found,unavailable}
	SalesPages      prometheus.Histogram
	BulkRows        *prometheus.CounterVec // labels: status={ok,not_found,error}
}

// NewMetrics creates and registers all metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.QueryRequests,
		m.QueryRetries,
		m.QueryDuration,
		m.QueryCache,
		m.ResolveOutcomes,
		m.SalesPages,
		m.BulkRows,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering collectors,
// avoiding "already registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		QueryRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel_insights",
			Name:      "gis_query_requests_total",
			Help:      "GIS queries by service and outcome.",
		}, []string{"service", "outcome"}),
		QueryRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parcel_insights",
			Name:      "gis_query_retries_total",
			Help:      "Retry attempts against GIS services.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "parcel_insights",
			Name:      "gis_query_duration_seconds",
			Help:      "GIS query round-trip duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"service"}),
		QueryCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel_insights",
			Name:      "gis_query_cache_total",
			Help:      "Query cache lookups by result.",
		}, []string{"result"}),
		ResolveOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel_insights",
			Name:      "folio_resolve_total",
			Help:      "Folio resolutions by source and outcome.",
		}, []string{"source", "outcome"}),
		SalesPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parcel_insights",
			Name:      "sales_query_pages",
			Help:      "Pages fetched per sales query.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		BulkRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parcel_insights",
			Name:      "bulk_rows_total",
			Help:      "Bulk lookup rows by status.",
		}, []string{"status"}),
	}
}
