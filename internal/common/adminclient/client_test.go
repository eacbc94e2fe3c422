package adminclient

import (
	"context"
	"errors"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/edge/internal_server"
)

func startAdmin(t *testing.T) string {
	t.Helper()

	srv := internal_server.NewInternalServer("secret", zap.NewNop())
	srv.RegisterHandler(fasthttp.MethodGet, internal_server.PathStats, func(ctx *fasthttp.RequestCtx) {
		httputil.JSONData(ctx, map[string]string{"limit": string(ctx.QueryArgs().Peek("limit"))})
	})
	srv.RegisterHandler(fasthttp.MethodPost, internal_server.PathEventPostSaved, func(ctx *fasthttp.RequestCtx) {
		var body map[string]interface{}
		if err := httputil.DecodeJSONBody(ctx, &body); err != nil {
			httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
			return
		}
		httputil.JSONSuccess(ctx, "Cache invalidated", body)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &fasthttp.Server{Handler: srv.Handler()}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown() })
	return ln.Addr().String()
}

func TestClient_Get(t *testing.T) {
	c, err := New(startAdmin(t), "secret", 5*time.Second)
	require.NoError(t, err)

	resp, err := c.Get(context.Background(), internal_server.PathStats, url.Values{"limit": {"3"}})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.JSONEq(t, `{"limit":"3"}`, string(resp.Data))
}

func TestClient_PostBody(t *testing.T) {
	c, err := New("http://"+startAdmin(t)+"/", "secret", 5*time.Second)
	require.NoError(t, err)

	resp, err := c.Post(context.Background(), internal_server.PathEventPostSaved, nil, map[string]interface{}{"post_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "Cache invalidated", resp.Message)
	assert.JSONEq(t, `{"post_id":7}`, string(resp.Data))
}

func TestClient_APIError(t *testing.T) {
	addr := startAdmin(t)

	c, err := New(addr, "wrong", 5*time.Second)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), internal_server.PathStats, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fasthttp.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized (status 401)", apiErr.Error())

	c, err = New(addr, "secret", 5*time.Second)
	require.NoError(t, err)
	_, err = c.Post(context.Background(), internal_server.PathEventPostSaved, nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, fasthttp.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, err := New(addr, "secret", time.Second)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), internal_server.PathStats, nil)
	assert.True(t, errors.Is(err, ErrUnreachable))
}

func TestNew_InvalidAddress(t *testing.T) {
	_, err := New("", "k", 0)
	assert.Error(t, err)
	_, err = New("http://", "k", 0)
	assert.Error(t, err)
}
