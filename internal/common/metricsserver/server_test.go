package metricsserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

type stubMetrics struct{}

func (stubMetrics) ServeHTTP(ctx *fasthttp.RequestCtx) {
	ctx.SetBodyString("adminx_page_cache_requests_total 42\n")
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetConnectionClose()
	require.NoError(t, fasthttp.DoTimeout(req, resp, 2*time.Second))
	return resp.StatusCode(), string(resp.Body())
}

func TestStart_Disabled(t *testing.T) {
	server, err := Start(configtypes.MetricsConfig{Enabled: false}, stubMetrics{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, server)
}

func TestStart_ServesMetricsAndHealth(t *testing.T) {
	addr := freeAddr(t)
	server, err := Start(configtypes.MetricsConfig{Enabled: true, Listen: addr, Path: "/metrics"}, stubMetrics{}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, server)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.ShutdownWithContext(ctx)
	}()

	status, body := get(t, "http://"+addr+"/metrics")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Contains(t, body, "adminx_page_cache_requests_total 42")

	status, body = get(t, "http://"+addr+"/healthz")
	assert.Equal(t, fasthttp.StatusOK, status)
	assert.Equal(t, "ok", body)

	status, _ = get(t, "http://"+addr+"/other")
	assert.Equal(t, fasthttp.StatusNotFound, status)
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Start(configtypes.MetricsConfig{Enabled: true, Listen: ln.Addr().String(), Path: "/metrics"}, stubMetrics{}, zap.NewNop())
	assert.Error(t, err)
}
