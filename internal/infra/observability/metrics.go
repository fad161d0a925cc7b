package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/notimo/notimo-api/internal/domain"
)

// Metrics holds all Prometheus metrics for the API.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration     *prometheus.HistogramVec
	transactionsWritten *prometheus.CounterVec
	transactionsDeleted prometheus.Counter
	statisticsComputed  *prometheus.CounterVec
	photosUploaded      prometheus.Counter
	blobErrors          *prometheus.CounterVec
	loginFailures       prometheus.Counter
	cacheHits           *prometheus.CounterVec
	cacheMisses         *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notimo_request_duration_seconds",
				Help:    "Duration of service operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		transactionsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notimo_transactions_written_total",
				Help: "Transactions created by track and position.",
			},
			[]string{"volet", "position"},
		),
		transactionsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notimo_transactions_deleted_total",
				Help: "Transactions deleted.",
			},
		),
		statisticsComputed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notimo_statistics_computed_total",
				Help: "Statistics aggregations by track filter.",
			},
			[]string{"volet"},
		),
		photosUploaded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notimo_photos_uploaded_total",
				Help: "Receipt photos stored.",
			},
		),
		blobErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notimo_blob_errors_total",
				Help: "Blob store failures by operation.",
			},
			[]string{"operation"},
		),
		loginFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "notimo_login_failures_total",
				Help: "Rejected login attempts.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notimo_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notimo_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTransactionWritten counts a created transaction.
func (m *Metrics) IncrTransactionWritten(track domain.Track, position domain.Position) {
	m.transactionsWritten.WithLabelValues(string(track), string(position)).Inc()
}

// IncrTransactionDeleted counts a deleted transaction.
func (m *Metrics) IncrTransactionDeleted() {
	m.transactionsDeleted.Inc()
}

// IncrStatistics counts one aggregation; track is "all" when unfiltered.
func (m *Metrics) IncrStatistics(track string) {
	m.statisticsComputed.WithLabelValues(track).Inc()
}

// IncrPhotoUploaded counts a stored photo.
func (m *Metrics) IncrPhotoUploaded() {
	m.photosUploaded.Inc()
}

// IncrBlobError counts a blob store failure.
func (m *Metrics) IncrBlobError(operation string) {
	m.blobErrors.WithLabelValues(operation).Inc()
}

// IncrLoginFailure counts a rejected login.
func (m *Metrics) IncrLoginFailure() {
	m.loginFailures.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// Snapshot returns the counters for GET /v1/metrics/app.
func (m *Metrics) Snapshot() *domain.AppMetrics {
	return &domain.AppMetrics{
		TransactionsCreated: sumCounterVec(m.transactionsWritten),
		TransactionsDeleted: counterValue(m.transactionsDeleted),
		StatisticsComputed:  sumCounterVec(m.statisticsComputed),
		PhotosUploaded:      counterValue(m.photosUploaded),
		BlobErrors:          sumCounterVec(m.blobErrors),
		LoginFailures:       counterValue(m.loginFailures),
	}
}

// counterValue extracts the current float64 value of a counter.
func counterValue(c prometheus.Metric) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

// sumCounterVec adds every label combination of cv.
func sumCounterVec(cv *prometheus.CounterVec) float64 {
	ch := make(chan prometheus.Metric, 16)
	go func() {
		cv.Collect(ch)
		close(ch)
	}()
	total := 0.0
	for metric := range ch {
		total += counterValue(metric)
	}
	return total
}
