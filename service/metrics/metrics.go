package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Ledger API Metrics
	ledgerCallsTotal    *prometheus.CounterVec
	ledgerCallDuration  *prometheus.HistogramVec
	ledgerRateLimitHits prometheus.Counter

	// Catalog API Metrics
	catalogCallsTotal   *prometheus.CounterVec
	catalogCallDuration *prometheus.HistogramVec

	// Ingest Cycle Metrics
	ingestCyclesTotal         *prometheus.CounterVec
	ingestCycleDuration       *prometheus.HistogramVec
	transactionsFetchedTotal  prometheus.Counter
	activitiesClassifiedTotal *prometheus.CounterVec
	activitiesInsertedTotal   *prometheus.CounterVec
	ingestErrorsTotal         *prometheus.CounterVec
	checkpointAdvancesTotal   prometheus.Counter

	// Asset Resolution Metrics
	assetResolutionsTotal *prometheus.CounterVec

	// Workflow Metrics
	pollActivityDuration *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Ledger API Metrics
		ledgerCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_api_calls_total",
				Help: "Total number of ledger API calls by method and status",
			},
			[]string{"method", "status"},
		),
		ledgerCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_api_call_duration_seconds",
				Help:    "Duration of ledger API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),
		ledgerRateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_api_rate_limit_hits_total",
				Help: "Total number of ledger API rate limit hits (429 errors)",
			},
		),

		// Catalog API Metrics
		catalogCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_api_calls_total",
				Help: "Total number of catalog API calls by method and status",
			},
			[]string{"method", "status"},
		),
		catalogCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_api_call_duration_seconds",
				Help:    "Duration of catalog API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		// Ingest Cycle Metrics
		ingestCyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cycles_total",
				Help: "Total number of ingest cycles by outcome",
			},
			[]string{"status"},
		),
		ingestCycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_cycle_duration_seconds",
				Help:    "Duration of ingest cycles in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		transactionsFetchedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transactions_fetched_total",
				Help: "Total number of raw transactions fetched from the ledger",
			},
		),
		activitiesClassifiedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activities_classified_total",
				Help: "Total number of transactions classified by activity kind",
			},
			[]string{"kind"},
		),
		activitiesInsertedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "activities_inserted_total",
				Help: "Total number of activity records inserted by source",
			},
			[]string{"source"},
		),
		ingestErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_errors_total",
				Help: "Total number of ingest errors by stage",
			},
			[]string{"stage"},
		),
		checkpointAdvancesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "checkpoint_advances_total",
				Help: "Total number of checkpoint advances after committed batches",
			},
		),

		// Asset Resolution Metrics
		assetResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "asset_resolutions_total",
				Help: "Total number of asset resolutions by source",
			},
			[]string{"source"},
		),

		// Workflow Metrics
		pollActivityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "poll_activity_duration_seconds",
				Help:    "Duration of poll workflow activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Ledger API metric helpers

// RecordLedgerCall records a ledger API call with duration.
func (m *Metrics) RecordLedgerCall(method, status string, duration float64) {
	m.ledgerCallsTotal.WithLabelValues(method, status).Inc()
	m.ledgerCallDuration.WithLabelValues(method).Observe(duration)
}

// RecordLedgerRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordLedgerRateLimitHit() {
	m.ledgerRateLimitHits.Inc()
}

// Catalog API metric helpers

// RecordCatalogCall records a catalog API call with duration.
func (m *Metrics) RecordCatalogCall(method, status string, duration float64) {
	m.catalogCallsTotal.WithLabelValues(method, status).Inc()
	m.catalogCallDuration.WithLabelValues(method).Observe(duration)
}

// Ingest cycle metric helpers

// RecordIngestCycle records a completed ingest cycle.
func (m *Metrics) RecordIngestCycle(status string, duration float64) {
	m.ingestCyclesTotal.WithLabelValues(status).Inc()
	m.ingestCycleDuration.WithLabelValues(status).Observe(duration)
}

// RecordTransactionsFetched records raw transactions fetched from the ledger.
func (m *Metrics) RecordTransactionsFetched(count int) {
	m.transactionsFetchedTotal.Add(float64(count))
}

// RecordClassification records a classified transaction by kind.
func (m *Metrics) RecordClassification(kind string) {
	m.activitiesClassifiedTotal.WithLabelValues(kind).Inc()
}

// RecordActivitiesInserted records activity records inserted into the feed.
func (m *Metrics) RecordActivitiesInserted(source string, count int) {
	m.activitiesInsertedTotal.WithLabelValues(source).Add(float64(count))
}

// RecordIngestError records an ingest error at a given pipeline stage.
func (m *Metrics) RecordIngestError(stage string) {
	m.ingestErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordCheckpointAdvance records a checkpoint advance.
func (m *Metrics) RecordCheckpointAdvance() {
	m.checkpointAdvancesTotal.Inc()
}

// RecordAssetResolution records an asset resolution by source
// (db, catalog, chain, unresolved).
func (m *Metrics) RecordAssetResolution(source string) {
	m.assetResolutionsTotal.WithLabelValues(source).Inc()
}

// Workflow metric helpers

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	m.pollActivityDuration.WithLabelValues(activity).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
