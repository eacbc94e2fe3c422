package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

func gather(t *testing.T, registry *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}
	return byName
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func TestPrometheusMetrics_Recording(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("adminx", registry, zap.NewNop())

	pm.RecordRequest(CacheHit, 200, 5*time.Millisecond)
	pm.RecordRequest(CacheMiss, 200, 150*time.Millisecond)
	pm.RecordRequest(CacheBypass, 302, 80*time.Millisecond)
	pm.RecordBypass("logged_in")
	pm.RecordInvalidation("post_saved")
	pm.RecordImagesOptimized("bulk", 3, 2048)
	pm.UpdateCacheStats(12, 4096)

	pm.IncActiveRequests()
	pm.IncActiveRequests()
	pm.DecActiveRequests()

	families := gather(t, registry)

	requests := families["adminx_gw_requests_total"]
	require.NotNil(t, requests)
	assert.Len(t, requests.GetMetric(), 3)

	bypass := families["adminx_gw_cache_bypass_total"].GetMetric()[0]
	assert.Equal(t, "logged_in", labelValue(bypass, "reason"))
	assert.Equal(t, float64(1), bypass.GetCounter().GetValue())

	assert.Equal(t, float64(1), families["adminx_gw_active_requests"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, float64(4096), families["adminx_gw_cache_size_bytes"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, float64(2048), families["adminx_gw_image_bytes_saved_total"].GetMetric()[0].GetCounter().GetValue())

	ranges := map[string]float64{}
	for _, m := range families["adminx_gw_status_code_responses_total"].GetMetric() {
		ranges[labelValue(m, "status_range")] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"2xx": 2, "3xx": 1}, ranges)
}

func TestPrometheusMetrics_HitRatio(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("adminx", registry, zap.NewNop())

	pm.RecordCacheHit()
	pm.RecordCacheHit()
	pm.RecordCacheHit()
	pm.RecordCacheMiss()

	families := gather(t, registry)
	ratio := families["adminx_gw_cache_hit_ratio"].GetMetric()[0].GetGauge().GetValue()
	assert.InDelta(t, 0.75, ratio, 0.0001)
}

func TestPrometheusMetrics_ImagesZeroCountNotRecorded(t *testing.T) {
	registry := prometheus.NewRegistry()
	pm := NewPrometheusMetricsWithRegistry("adminx", registry, zap.NewNop())

	pm.RecordImagesOptimized("upload", 0, 0)

	families := gather(t, registry)
	assert.Nil(t, families["adminx_gw_images_optimized_total"])
}

func TestPrometheusMetrics_HTTPEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	mc := NewMetricsCollectorWithRegistry("adminx", registry, zap.NewNop())

	mc.RecordRequest(CacheHit, 200, 100*time.Millisecond)
	mc.RecordCacheHit()

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/metrics")
	ctx.Request.Header.SetMethod("GET")

	mc.ServeHTTP(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Header.Peek("Content-Type")), "text/plain")

	body := string(ctx.Response.Body())
	assert.Contains(t, body, "adminx_gw_requests_total")
	assert.Contains(t, body, "adminx_gw_cache_hits_total")
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "# TYPE")
}

func TestGetStatusCodeRange(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		204: "2xx",
		304: "3xx",
		404: "4xx",
		503: "5xx",
		0:   "unknown",
		700: "unknown",
	}
	for code, want := range tests {
		assert.Equal(t, want, getStatusCodeRange(code), "code %d", code)
	}
}
