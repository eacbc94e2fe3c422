package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Cache status labels, also sent as the X-Cache header
const (
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
	CacheBypass = "BYPASS"
)

// PrometheusMetrics holds the gateway's Prometheus collectors
type PrometheusMetrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	statusCodeResp  *prometheus.CounterVec
	activeRequests  prometheus.Gauge

	// Page cache metrics
	cacheHitsTotal          *prometheus.CounterVec
	cacheMissesTotal        *prometheus.CounterVec
	cacheHitRatio           prometheus.Gauge
	bypassTotal             *prometheus.CounterVec
	cacheStoresTotal        *prometheus.CounterVec
	cacheInvalidationsTotal *prometheus.CounterVec
	cacheFiles              prometheus.Gauge
	cacheSize               prometheus.Gauge

	// Origin metrics
	originDuration *prometheus.HistogramVec

	// Optimizer metrics
	assetRewritesTotal prometheus.Counter
	webpSwapsTotal     prometheus.Counter
	imagesOptimized    *prometheus.CounterVec
	imageBytesSaved    *prometheus.CounterVec
	notModifiedTotal   prometheus.Counter

	errorRate *prometheus.CounterVec

	logger      *zap.Logger
	httpHandler func(*fasthttp.RequestCtx)
}

// NewPrometheusMetrics registers the collectors on the default registry
func NewPrometheusMetrics(namespace string, logger *zap.Logger) *PrometheusMetrics {
	return NewPrometheusMetricsWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewPrometheusMetricsWithRegistry registers the collectors on registerer
func NewPrometheusMetricsWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		logger: logger,
	}

	pm.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "requests_total",
			Help:      "Total number of requests by cache status",
		},
		[]string{"cache"},
	)

	pm.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "request_duration_seconds",
			Help:      "Time taken to answer requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"cache"},
	)

	pm.statusCodeResp = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "status_code_responses_total",
			Help:      "Responses by status code range",
		},
		[]string{"status_range"},
	)

	pm.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "active_requests",
			Help:      "Requests currently being processed",
		},
	)

	pm.cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_hits_total",
			Help:      "Total number of page cache hits",
		},
		[]string{},
	)

	pm.cacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_misses_total",
			Help:      "Total number of page cache misses",
		},
		[]string{},
	)

	pm.cacheHitRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_hit_ratio",
			Help:      "Page cache hit ratio (0-1)",
		},
	)

	pm.bypassTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_bypass_total",
			Help:      "Requests not eligible for the page cache",
		},
		[]string{"reason"},
	)

	pm.cacheStoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_stores_total",
			Help:      "Page cache writes by result",
		},
		[]string{"result"},
	)

	pm.cacheInvalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_invalidations_total",
			Help:      "Full page cache invalidations by reason",
		},
		[]string{"reason"},
	)

	pm.cacheFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_files",
			Help:      "Number of files in the page cache",
		},
	)

	pm.cacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "cache_size_bytes",
			Help:      "Total size of the page cache in bytes",
		},
	)

	pm.originDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "origin_duration_seconds",
			Help:      "Time taken by the WordPress origin to render",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"status_range"},
	)

	pm.assetRewritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "asset_rewrites_total",
			Help:      "Pages whose stylesheets or scripts were rewritten",
		},
	)

	pm.webpSwapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "webp_rewrites_total",
			Help:      "Responses whose images were swapped to WebP",
		},
	)

	pm.imagesOptimized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "images_optimized_total",
			Help:      "Images recompressed by trigger",
		},
		[]string{"trigger"},
	)

	pm.imageBytesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "image_bytes_saved_total",
			Help:      "Bytes saved by image recompression",
		},
		[]string{"trigger"},
	)

	pm.notModifiedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "not_modified_total",
			Help:      "Cache hits answered with 304 Not Modified",
		},
	)

	pm.errorRate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gw",
			Name:      "errors_total",
			Help:      "Errors by type",
		},
		[]string{"error_type"},
	)

	registerer.MustRegister(
		pm.requestsTotal,
		pm.requestDuration,
		pm.statusCodeResp,
		pm.activeRequests,
		pm.cacheHitsTotal,
		pm.cacheMissesTotal,
		pm.cacheHitRatio,
		pm.bypassTotal,
		pm.cacheStoresTotal,
		pm.cacheInvalidationsTotal,
		pm.cacheFiles,
		pm.cacheSize,
		pm.originDuration,
		pm.assetRewritesTotal,
		pm.webpSwapsTotal,
		pm.imagesOptimized,
		pm.imageBytesSaved,
		pm.notModifiedTotal,
		pm.errorRate,
	)

	// Create HTTP handler - registerer implements Gatherer interface
	gatherer, ok := registerer.(prometheus.Gatherer)
	if !ok {
		gatherer = prometheus.DefaultGatherer
	}
	pm.httpHandler = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	logger.Debug("Prometheus metrics initialized")
	return pm
}

// RecordRequest records a finished request with its cache status
func (pm *PrometheusMetrics) RecordRequest(cacheStatus string, statusCode int, duration time.Duration) {
	pm.requestsTotal.WithLabelValues(cacheStatus).Inc()
	pm.requestDuration.WithLabelValues(cacheStatus).Observe(duration.Seconds())
	pm.statusCodeResp.WithLabelValues(getStatusCodeRange(statusCode)).Inc()
}

// RecordCacheHit records a cache hit and updates hit ratio
func (pm *PrometheusMetrics) RecordCacheHit() {
	pm.cacheHitsTotal.WithLabelValues().Inc()
	pm.updateCacheHitRatio()
}

// RecordCacheMiss records a cache miss and updates hit ratio
func (pm *PrometheusMetrics) RecordCacheMiss() {
	pm.cacheMissesTotal.WithLabelValues().Inc()
	pm.updateCacheHitRatio()
}

// RecordBypass records a request that skipped the cache
func (pm *PrometheusMetrics) RecordBypass(reason string) {
	pm.bypassTotal.WithLabelValues(reason).Inc()
}

// RecordCacheStore records the outcome of a cache write
func (pm *PrometheusMetrics) RecordCacheStore(result string) {
	pm.cacheStoresTotal.WithLabelValues(result).Inc()
}

// RecordInvalidation records a full cache invalidation
func (pm *PrometheusMetrics) RecordInvalidation(reason string) {
	pm.cacheInvalidationsTotal.WithLabelValues(reason).Inc()
}

// UpdateCacheStats sets the cache file count and size gauges
func (pm *PrometheusMetrics) UpdateCacheStats(files int, sizeBytes int64) {
	pm.cacheFiles.Set(float64(files))
	pm.cacheSize.Set(float64(sizeBytes))
}

// RecordOriginDuration records how long the origin took to answer
func (pm *PrometheusMetrics) RecordOriginDuration(statusCode int, duration time.Duration) {
	pm.originDuration.WithLabelValues(getStatusCodeRange(statusCode)).Observe(duration.Seconds())
}

// RecordAssetRewrite records a page with rewritten asset references
func (pm *PrometheusMetrics) RecordAssetRewrite() {
	pm.assetRewritesTotal.Inc()
}

// RecordWebPSwap records a response with WebP image URLs
func (pm *PrometheusMetrics) RecordWebPSwap() {
	pm.webpSwapsTotal.Inc()
}

// RecordImagesOptimized records recompressed images and the bytes saved
func (pm *PrometheusMetrics) RecordImagesOptimized(trigger string, count int, bytesSaved int64) {
	if count > 0 {
		pm.imagesOptimized.WithLabelValues(trigger).Add(float64(count))
	}
	if bytesSaved > 0 {
		pm.imageBytesSaved.WithLabelValues(trigger).Add(float64(bytesSaved))
	}
}

// RecordNotModified records a 304 answered from the cache
func (pm *PrometheusMetrics) RecordNotModified() {
	pm.notModifiedTotal.Inc()
}

// RecordError records an error by type
func (pm *PrometheusMetrics) RecordError(errorType string) {
	pm.errorRate.WithLabelValues(errorType).Inc()
}

// IncActiveRequests increments active request counter
func (pm *PrometheusMetrics) IncActiveRequests() {
	pm.activeRequests.Inc()
}

// DecActiveRequests decrements active request counter
func (pm *PrometheusMetrics) DecActiveRequests() {
	pm.activeRequests.Dec()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (pm *PrometheusMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	pm.httpHandler(ctx)
}

// getStatusCodeRange converts a status code to a range label (2xx, 3xx, 4xx, 5xx)
func getStatusCodeRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	default:
		return "unknown"
	}
}

func (pm *PrometheusMetrics) updateCacheHitRatio() {
	hits := pm.getCounterValue(pm.cacheHitsTotal.WithLabelValues())
	misses := pm.getCounterValue(pm.cacheMissesTotal.WithLabelValues())

	total := hits + misses
	if total > 0 {
		pm.cacheHitRatio.Set(hits / total)
	}
}

// getCounterValue reads the current value of a counter
func (pm *PrometheusMetrics) getCounterValue(counter prometheus.Counter) float64 {
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		pm.logger.Warn("Failed to read counter value", zap.Error(err))
		return 0
	}
	return metric.GetCounter().GetValue()
}
