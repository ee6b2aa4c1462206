package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_sync_runs_total",
			Help: "Total sync runs by final status",
		},
		[]string{"status"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "govdec_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	RecordsScraped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_records_scraped_total",
			Help: "Total candidate records returned by the scraper",
		},
	)

	RecordsInserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_records_inserted_total",
			Help: "Total records persisted",
		},
	)

	RecordsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_records_duplicate_total",
			Help: "Total records dropped as already stored",
		},
	)

	RecordsInvalid = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_records_invalid_total",
			Help: "Total records rejected by key validation",
		},
	)

	RecordErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_record_errors_total",
			Help: "Total records that failed to persist",
		},
	)

	TagResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_tag_resolutions_total",
			Help: "Tag validations by resolution method and field",
		},
		[]string{"method", "field"},
	)

	EnrichmentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "govdec_enrichment_duration_seconds",
			Help:    "Enrichment call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	EnrichmentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_enrichment_failures_total",
			Help: "Failed enrichment calls by operation",
		},
		[]string{"operation"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	MigrationRecordsScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "govdec_migration_records_scanned_total",
			Help: "Records examined by tag migrations",
		},
	)

	MigrationRecordsUpdated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_migration_records_updated_total",
			Help: "Records changed by tag migrations, by mode",
		},
		[]string{"mode"},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "govdec_search_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "govdec_search_total",
			Help: "Total search requests by status",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "govdec_circuit_breaker_state",
			Help: "Breaker state per dependency (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

func Init() {
	prometheus.MustRegister(SyncRunsTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(RecordsScraped)
	prometheus.MustRegister(RecordsInserted)
	prometheus.MustRegister(RecordsDuplicate)
	prometheus.MustRegister(RecordsInvalid)
	prometheus.MustRegister(RecordErrors)
	prometheus.MustRegister(TagResolutions)
	prometheus.MustRegister(EnrichmentDuration)
	prometheus.MustRegister(EnrichmentFailures)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(MigrationRecordsScanned)
	prometheus.MustRegister(MigrationRecordsUpdated)
	prometheus.MustRegister(SearchDuration)
	prometheus.MustRegister(SearchTotal)
	prometheus.MustRegister(CircuitBreakerState)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
