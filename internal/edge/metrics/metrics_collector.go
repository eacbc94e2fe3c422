package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// MetricsCollector centralizes all metrics recording with proper labeling
type MetricsCollector struct {
	prometheus *PrometheusMetrics
	logger     *zap.Logger
}

// NewMetricsCollector creates a collector on the default registry
func NewMetricsCollector(namespace string, logger *zap.Logger) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer, logger)
}

// NewMetricsCollectorWithRegistry creates a collector on registerer
func NewMetricsCollectorWithRegistry(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *MetricsCollector {
	return &MetricsCollector{
		prometheus: NewPrometheusMetricsWithRegistry(namespace, registerer, logger),
		logger:     logger,
	}
}

// RecordRequest records a finished request with timing
func (mc *MetricsCollector) RecordRequest(cacheStatus string, statusCode int, duration time.Duration) {
	mc.prometheus.RecordRequest(cacheStatus, statusCode, duration)

	mc.logger.Debug("Recorded request metric",
		zap.String("cache", cacheStatus),
		zap.Int("status_code", statusCode),
		zap.Duration("duration", duration))
}

// RecordCacheHit records a page cache hit
func (mc *MetricsCollector) RecordCacheHit() {
	mc.prometheus.RecordCacheHit()
}

// RecordCacheMiss records a page cache miss
func (mc *MetricsCollector) RecordCacheMiss() {
	mc.prometheus.RecordCacheMiss()
}

// RecordBypass records a request that was not eligible for caching
func (mc *MetricsCollector) RecordBypass(reason string) {
	mc.prometheus.RecordBypass(reason)

	mc.logger.Debug("Recorded bypass metric", zap.String("reason", reason))
}

// RecordCacheStore records the outcome of a page cache write
func (mc *MetricsCollector) RecordCacheStore(result string) {
	mc.prometheus.RecordCacheStore(result)
}

// RecordInvalidation records a full cache invalidation
func (mc *MetricsCollector) RecordInvalidation(reason string) {
	mc.prometheus.RecordInvalidation(reason)

	mc.logger.Debug("Recorded invalidation metric", zap.String("reason", reason))
}

// UpdateCacheStats sets the page cache size gauges
func (mc *MetricsCollector) UpdateCacheStats(files int, sizeBytes int64) {
	mc.prometheus.UpdateCacheStats(files, sizeBytes)
}

// RecordOriginDuration records how long the origin took
func (mc *MetricsCollector) RecordOriginDuration(statusCode int, duration time.Duration) {
	mc.prometheus.RecordOriginDuration(statusCode, duration)

	mc.logger.Debug("Recorded origin duration metric",
		zap.Int("status_code", statusCode),
		zap.Duration("duration", duration))
}

// RecordAssetRewrite records a page with rewritten asset references
func (mc *MetricsCollector) RecordAssetRewrite() {
	mc.prometheus.RecordAssetRewrite()
}

// RecordWebPSwap records a response served with WebP image URLs
func (mc *MetricsCollector) RecordWebPSwap() {
	mc.prometheus.RecordWebPSwap()
}

// RecordImagesOptimized records recompressed images by trigger (upload or bulk)
func (mc *MetricsCollector) RecordImagesOptimized(trigger string, count int, bytesSaved int64) {
	mc.prometheus.RecordImagesOptimized(trigger, count, bytesSaved)

	mc.logger.Debug("Recorded image optimization metric",
		zap.String("trigger", trigger),
		zap.Int("count", count),
		zap.Int64("bytes_saved", bytesSaved))
}

// RecordNotModified records a 304 answered from the cache
func (mc *MetricsCollector) RecordNotModified() {
	mc.prometheus.RecordNotModified()
}

// RecordError records an error by type
func (mc *MetricsCollector) RecordError(errorType string) {
	mc.prometheus.RecordError(errorType)

	mc.logger.Debug("Recorded error metric", zap.String("error_type", errorType))
}

// IncActiveRequests increments active request counter
func (mc *MetricsCollector) IncActiveRequests() {
	mc.prometheus.IncActiveRequests()
}

// DecActiveRequests decrements active request counter
func (mc *MetricsCollector) DecActiveRequests() {
	mc.prometheus.DecActiveRequests()
}

// ServeHTTP serves Prometheus metrics via HTTP
func (mc *MetricsCollector) ServeHTTP(ctx *fasthttp.RequestCtx) {
	mc.prometheus.ServeHTTP(ctx)
}
