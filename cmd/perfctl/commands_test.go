package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/edge/internal_server"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

func startGateway(t *testing.T) (string, *[]recorded) {
	t.Helper()

	var calls []recorded
	srv := internal_server.NewInternalServer("secret", zap.NewNop())
	record := func(ctx *fasthttp.RequestCtx) {
		calls = append(calls, recorded{
			method: string(ctx.Method()),
			path:   string(ctx.Path()),
			query:  string(ctx.QueryArgs().QueryString()),
			body:   string(ctx.PostBody()),
		})
		httputil.JSONSuccess(ctx, "done", map[string]int{"removed": 3})
	}
	for _, path := range []string{
		internal_server.PathCacheClear,
		internal_server.PathImagesBulk,
		internal_server.PathPerfTest,
		internal_server.PathEventPostSaved,
	} {
		srv.RegisterHandler(fasthttp.MethodPost, path, record)
	}
	srv.RegisterHandler(fasthttp.MethodGet, internal_server.PathStats, record)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := &fasthttp.Server{Handler: srv.Handler()}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown() })
	return ln.Addr().String(), &calls
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rawJSON = false
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	addr, calls := startGateway(t)
	base := []string{"--addr", addr, "--key", "secret"}

	tests := []struct {
		name string
		args []string
		want recorded
	}{
		{"cache clear", []string{"cache", "clear"}, recorded{method: "POST", path: internal_server.PathCacheClear}},
		{"stats", []string{"stats"}, recorded{method: "GET", path: internal_server.PathStats}},
		{"bulk with limit", []string{"images", "bulk", "--limit", "25"}, recorded{method: "POST", path: internal_server.PathImagesBulk, query: "limit=25"}},
		{"perf with uri", []string{"perf", "/about/"}, recorded{method: "POST", path: internal_server.PathPerfTest, body: `{"uri":"/about/"}`}},
		{"post saved", []string{"event", "post-saved", "42"}, recorded{method: "POST", path: internal_server.PathEventPostSaved, body: `{"is_revision":false,"post_id":42}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			*calls = nil
			out, err := run(t, append(base, tt.args...)...)
			require.NoError(t, err)
			require.Len(t, *calls, 1)
			assert.Equal(t, tt.want, (*calls)[0])
			assert.Contains(t, out, "done")
			assert.Contains(t, out, `"removed": 3`)
		})
	}
}

func TestCommands_Errors(t *testing.T) {
	addr, _ := startGateway(t)

	_, err := run(t, "--addr", addr, "--key", "wrong", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	_, err = run(t, "--addr", addr, "--key", "secret", "event", "post-saved", "abc")
	assert.Error(t, err)

	_, err = run(t, "--addr", addr, "--key", "", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "admin key is required")
}
