package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storeUpsertDuration prometheus.Histogram
	storeOrphanGCTotal  prometheus.Counter
	storeBusyRetryTotal *prometheus.CounterVec
	documentsIndexed    prometheus.Gauge

	searcherQueryDuration *prometheus.HistogramVec
	searcherResultsTotal  *prometheus.CounterVec

	embedderQueueDepth    prometheus.Gauge
	embedderEmbedDuration prometheus.Histogram
	embedderCacheHits     *prometheus.CounterVec
	embedderLoadDuration  prometheus.Histogram

	watcherDebounceTotal prometheus.Counter
	watcherScanDuration  prometheus.Histogram

	memoirWriteDuration     prometheus.Histogram
	memoirZoneQuotaRejected *prometheus.CounterVec
	memoirZoneDepthRejected *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeUpsertDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "store_upsert_duration_seconds",
					Help:    "Document upsert duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storeOrphanGCTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "store_orphan_gc_total",
					Help: "Total orphaned content/vector rows garbage collected.",
				},
			),
			storeBusyRetryTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_busy_retry_total",
					Help: "Total SQLITE_BUSY retries by outcome.",
				},
				[]string{"outcome"},
			),
			documentsIndexed: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "store_documents_total",
					Help: "Total active documents across all collections.",
				},
			),
			searcherQueryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "searcher_query_duration_seconds",
					Help:    "Query duration in seconds by stage.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"stage"},
			),
			searcherResultsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "searcher_results_total",
					Help: "Total results returned by source.",
				},
				[]string{"source"},
			),
			embedderQueueDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "embedder_queue_depth",
					Help: "Current number of documents pending embedding.",
				},
			),
			embedderEmbedDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedder_embed_duration_seconds",
					Help:    "Embedding generation duration in seconds, per batch.",
					Buckets: prometheus.DefBuckets,
				},
			),
			embedderCacheHits: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "embedder_cache_total",
					Help: "Total embedding cache lookups by outcome.",
				},
				[]string{"outcome"},
			),
			embedderLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "embedder_model_load_duration_seconds",
					Help:    "Model load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			watcherDebounceTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "watcher_debounce_total",
					Help: "Total debounced filesystem events coalesced into a rescan.",
				},
			),
			watcherScanDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "watcher_scan_duration_seconds",
					Help:    "Full collection rescan duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoirWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memoir_write_duration_seconds",
					Help:    "Memoir key write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			memoirZoneQuotaRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memoir_zone_quota_rejected_total",
					Help: "Total writes rejected for exceeding a zone's item quota.",
				},
				[]string{"zone"},
			),
			memoirZoneDepthRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memoir_zone_depth_rejected_total",
					Help: "Total writes rejected for exceeding a zone's depth limit.",
				},
				[]string{"zone"},
			),
		}

		prometheus.MustRegister(
			m.storeUpsertDuration,
			m.storeOrphanGCTotal,
			m.storeBusyRetryTotal,
			m.documentsIndexed,
			m.searcherQueryDuration,
			m.searcherResultsTotal,
			m.embedderQueueDepth,
			m.embedderEmbedDuration,
			m.embedderCacheHits,
			m.embedderLoadDuration,
			m.watcherDebounceTotal,
			m.watcherScanDuration,
			m.memoirWriteDuration,
			m.memoirZoneQuotaRejected,
			m.memoirZoneDepthRejected,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns an http.Handler serving the process's Prometheus metrics.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordStoreUpsert(duration time.Duration) {
	getMetrics().storeUpsertDuration.Observe(duration.Seconds())
}

func RecordStoreOrphanGC(rows int) {
	getMetrics().storeOrphanGCTotal.Add(float64(rows))
}

func RecordStoreBusyRetry(outcome string) {
	getMetrics().storeBusyRetryTotal.WithLabelValues(outcome).Inc()
}

func SetDocumentsIndexed(total int) {
	getMetrics().documentsIndexed.Set(float64(total))
}

func RecordSearcherQuery(stage string, duration time.Duration) {
	getMetrics().searcherQueryDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func RecordSearcherResults(source string, count int) {
	getMetrics().searcherResultsTotal.WithLabelValues(source).Add(float64(count))
}

func SetEmbedderQueueDepth(depth int) {
	getMetrics().embedderQueueDepth.Set(float64(depth))
}

func RecordEmbedderEmbed(duration time.Duration) {
	getMetrics().embedderEmbedDuration.Observe(duration.Seconds())
}

func RecordEmbedderCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().embedderCacheHits.WithLabelValues(outcome).Inc()
}

func RecordEmbedderLoad(duration time.Duration) {
	getMetrics().embedderLoadDuration.Observe(duration.Seconds())
}

func RecordWatcherDebounce() {
	getMetrics().watcherDebounceTotal.Inc()
}

func RecordWatcherScan(duration time.Duration) {
	getMetrics().watcherScanDuration.Observe(duration.Seconds())
}

func RecordMemoirWrite(duration time.Duration) {
	getMetrics().memoirWriteDuration.Observe(duration.Seconds())
}

func RecordMemoirZoneQuotaRejected(zone string) {
	getMetrics().memoirZoneQuotaRejected.WithLabelValues(zone).Inc()
}

func RecordMemoirZoneDepthRejected(zone string) {
	getMetrics().memoirZoneDepthRejected.WithLabelValues(zone).Inc()
}
