package server

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/config"
	"github.com/adminx/perfgate/internal/edge/assets"
	"github.com/adminx/perfgate/internal/edge/images"
	"github.com/adminx/perfgate/internal/edge/metrics"
	"github.com/adminx/perfgate/internal/edge/origin"
	"github.com/adminx/perfgate/internal/edge/pagecache"
	"github.com/adminx/perfgate/pkg/types"
)

const (
	siteURL    = "http://example.com"
	uploadsURL = siteURL + "/wp-content/uploads"
	homePage   = `<html><head><link rel="stylesheet" href="http://example.com/wp-content/themes/t/style.css"></head>` +
		`<body><img src="http://example.com/wp-content/uploads/photo.jpg"><p>Hello</p></body></html>`
)

// fixtureT is satisfied by *testing.T and GinkgoT()
type fixtureT interface {
	require.TestingT
	Helper()
	TempDir() string
	Cleanup(func())
}

type gateway struct {
	server     *Server
	cache      *pagecache.Manager
	options    *config.LiveOptions
	registry   *prometheus.Registry
	docRoot    string
	uploadsDir string
	originURL  string

	calls  atomic.Int32
	mu     sync.RWMutex
	routes map[string]fasthttp.RequestHandler
}

func newGateway(t fixtureT) *gateway {
	t.Helper()

	root := t.TempDir()
	g := &gateway{
		docRoot:    filepath.Join(root, "site"),
		uploadsDir: filepath.Join(root, "site", "wp-content", "uploads"),
		registry:   prometheus.NewRegistry(),
		routes:     make(map[string]fasthttp.RequestHandler),
	}
	writeTestFile(t, filepath.Join(g.docRoot, "wp-content", "themes", "t", "style.css"), "body {\n  color: red;\n}\n")
	writeTestFile(t, filepath.Join(g.uploadsDir, "photo.jpg"), "jpeg")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	originServer := &fasthttp.Server{Handler: g.handleOrigin}
	go func() { _ = originServer.Serve(listener) }()
	t.Cleanup(func() { _ = originServer.Shutdown() })
	g.originURL = "http://" + listener.Addr().String()

	logger := zap.NewNop()
	g.options = config.NewLiveOptions(config.DefaultFeatures(), nil, logger)

	g.cache, err = pagecache.NewManager(pagecache.Config{
		Dir:         filepath.Join(g.uploadsDir, types.PageCacheDirName),
		Compression: types.CompressionSnappy,
		InstanceID:  "gw-test",
	}, nil, nil, logger)
	require.NoError(t, err)

	policy := pagecache.NewPolicy(
		[]string{"page"},
		[]string{"/wp-admin", "/wp-login.php"},
		[]string{"wordpress_logged_in_", "wp-postpass_", "comment_author_"},
	)

	originClient, err := origin.NewClient(origin.Config{URL: g.originURL, Timeout: 5 * time.Second}, logger)
	require.NoError(t, err)

	assetOptimizer, err := assets.NewOptimizer(assets.Config{
		SiteURL:      siteURL,
		DocumentRoot: g.docRoot,
		UploadsURL:   uploadsURL,
		UploadsDir:   g.uploadsDir,
	}, g.options, logger)
	require.NoError(t, err)

	imageOptimizer, err := images.NewOptimizer(images.Config{
		UploadsURL: uploadsURL,
		UploadsDir: g.uploadsDir,
	}, nil, g.options, logger)
	require.NoError(t, err)

	collector := metrics.NewMetricsCollectorWithRegistry("adminx", g.registry, logger)

	g.server = NewServer(Config{
		SiteHost:    "example.com",
		UploadsPath: "/wp-content/uploads",
		UploadsDir:  g.uploadsDir,
	}, g.options, policy, g.cache, originClient, assetOptimizer, imageOptimizer, collector, logger)

	return g
}

func writeTestFile(t fixtureT, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// route overrides the origin answer for path
func (g *gateway) route(path string, handler fasthttp.RequestHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes[path] = handler
}

func (g *gateway) handleOrigin(ctx *fasthttp.RequestCtx) {
	g.calls.Add(1)

	g.mu.RLock()
	handler, ok := g.routes[string(ctx.Path())]
	g.mu.RUnlock()
	if ok {
		handler(ctx)
		return
	}

	ctx.SetContentType("text/html; charset=UTF-8")
	if string(ctx.Path()) == "/" {
		ctx.SetBodyString(homePage)
		return
	}
	ctx.SetBodyString("<html><body>" + string(ctx.RequestURI()) + "</body></html>")
}

// do runs one request through the gateway. headers are name/value pairs.
func (g *gateway) do(uri string, headers ...string) *fasthttp.Response {
	return g.doMethod(fasthttp.MethodGet, uri, headers...)
}

func (g *gateway) doMethod(method, uri string, headers ...string) *fasthttp.Response {
	var req fasthttp.Request
	req.SetRequestURI(siteURL + uri)
	req.Header.SetMethod(method)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	g.server.HandleRequest(ctx)
	return &ctx.Response
}

// doOriginForm sends an origin-form request line with an explicit Host header
func (g *gateway) doOriginForm(uri, host string) *fasthttp.Response {
	var req fasthttp.Request
	req.SetRequestURI(uri)
	req.Header.SetHost(host)
	req.Header.SetMethod(fasthttp.MethodGet)

	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	g.server.HandleRequest(ctx)
	return &ctx.Response
}

func xcache(resp *fasthttp.Response) string {
	return string(resp.Header.Peek(HeaderCache))
}
