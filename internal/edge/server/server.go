package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/internal/common/requestid"
	"github.com/adminx/perfgate/internal/edge/assets"
	"github.com/adminx/perfgate/internal/edge/clientip"
	"github.com/adminx/perfgate/internal/edge/images"
	"github.com/adminx/perfgate/internal/edge/metrics"
	"github.com/adminx/perfgate/internal/edge/origin"
	"github.com/adminx/perfgate/internal/edge/pagecache"
	"github.com/adminx/perfgate/pkg/types"
)

// HeaderCache reports how a page was served: HIT, MISS or BYPASS
const HeaderCache = "X-Cache"

// Config configures the public gateway
type Config struct {
	// SiteHost is sent to the origin as Host. Cache keys carry no host, so the
	// client's Host header never reaches the origin when this is set.
	SiteHost string
	// UploadsPath is the URL path prefix of the uploads directory, e.g. /wp-content/uploads
	UploadsPath string
	UploadsDir  string
	// StoreTimeout bounds the cache index update after a miss
	StoreTimeout time.Duration
	// ClientIPHeaders are set by a trusted proxy in front of the gateway
	ClientIPHeaders []string
}

// Server is the public gateway placed in front of the WordPress origin
type Server struct {
	cfg     Config
	options configtypes.OptionsProvider
	logger  *zap.Logger

	policy  *pagecache.Policy
	cache   *pagecache.Manager
	origin  *origin.Client
	assets  *assets.Optimizer
	images  *images.Optimizer
	metrics *metrics.MetricsCollector

	uploads fasthttp.RequestHandler
}

// NewServer wires the gateway pipeline. assets and images may be nil.
func NewServer(
	cfg Config,
	options configtypes.OptionsProvider,
	policy *pagecache.Policy,
	cache *pagecache.Manager,
	originClient *origin.Client,
	assetOptimizer *assets.Optimizer,
	imageOptimizer *images.Optimizer,
	metricsCollector *metrics.MetricsCollector,
	logger *zap.Logger,
) *Server {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	cfg.UploadsPath = "/" + strings.Trim(cfg.UploadsPath, "/")

	s := &Server{
		cfg:     cfg,
		options: options,
		logger:  logger,
		policy:  policy,
		cache:   cache,
		origin:  originClient,
		assets:  assetOptimizer,
		images:  imageOptimizer,
		metrics: metricsCollector,
	}

	if cfg.UploadsDir != "" && cfg.UploadsPath != "/" {
		fs := &fasthttp.FS{
			Root:               cfg.UploadsDir,
			PathRewrite:        fasthttp.NewPathPrefixStripper(len(cfg.UploadsPath)),
			AcceptByteRange:    true,
			GenerateIndexPages: false,
			Compress:           false,
			CacheDuration:      time.Minute,
			// unknown files may still be handled by WordPress
			PathNotFound: s.proxyUploads,
		}
		s.uploads = fs.NewRequestHandler()
	}
	return s
}

// HandleRequest is the fasthttp handler of the public listener
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.FromRequest(ctx)
	logger := s.logger.With(zap.String("request_id", requestID))

	if s.isUploadsRequest(ctx) {
		if s.isPrivateUpload(ctx) {
			s.writeError(ctx, fasthttp.StatusNotFound, "Not found")
			return
		}
		s.uploads(ctx)
		return
	}

	s.processPageRequest(ctx, logger)
}

func (s *Server) isUploadsRequest(ctx *fasthttp.RequestCtx) bool {
	if s.uploads == nil || (!ctx.IsGet() && !ctx.IsHead()) {
		return false
	}
	path := string(ctx.Path())
	return strings.HasPrefix(path, s.cfg.UploadsPath+"/")
}

// isPrivateUpload hides the page cache directory from direct access
func (s *Server) isPrivateUpload(ctx *fasthttp.RequestCtx) bool {
	rel := strings.TrimPrefix(string(ctx.Path()), s.cfg.UploadsPath+"/")
	return rel == types.PageCacheDirName || strings.HasPrefix(rel, types.PageCacheDirName+"/")
}

// proxyUploads hands uploads paths missing on disk to the origin
func (s *Server) proxyUploads(ctx *fasthttp.RequestCtx) {
	logger := s.logger.With(zap.String("request_id", string(ctx.Response.Header.Peek(requestid.Header))))
	s.processPageRequest(ctx, logger)
}

// processPageRequest runs the cache, origin and rewrite pipeline for one request
func (s *Server) processPageRequest(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	start := time.Now()

	clientIP := clientip.Resolve(ctx, s.cfg.ClientIPHeaders)
	clientip.Forward(&ctx.Request, clientIP, clientip.Trusts(s.cfg.ClientIPHeaders, clientip.HeaderForwardedFor), ctx.IsTLS())
	logger = logger.With(zap.String("client_ip", clientIP))

	s.metrics.IncActiveRequests()
	defer s.metrics.DecActiveRequests()

	opts := s.options.Options()
	cacheable, reason := false, pagecache.ReasonDisabled
	if opts.CacheEnabled && s.cache != nil {
		cacheable, reason = s.policy.Cacheable(&ctx.Request)
	}

	if !cacheable {
		s.serveBypass(ctx, logger, reason, start)
		return
	}

	// Normalized path and query, identical for origin-form and absolute-form requests
	uri := string(ctx.URI().RequestURI())
	key := pagecache.Key(uri)

	if entry, ok := s.cache.Get(key); ok {
		s.serveHit(ctx, logger, entry, start)
		return
	}

	s.serveMiss(ctx, logger, key, uri, start)
}

func (s *Server) serveHit(ctx *fasthttp.RequestCtx, logger *zap.Logger, entry *pagecache.Entry, start time.Time) {
	s.metrics.RecordCacheHit()

	body := s.rewriteImages(ctx, entry.Body)
	ctx.Response.Header.Set("Last-Modified", entry.ModTime.UTC().Format(time.RFC1123))
	status := s.writePage(ctx, fasthttp.StatusOK, "text/html; charset=UTF-8", body, metrics.CacheHit)

	duration := time.Since(start)
	s.metrics.RecordRequest(metrics.CacheHit, status, duration)

	logger.Debug("Served from page cache",
		zap.String("key", entry.Key),
		zap.Int("status_code", status),
		zap.Duration("age", entry.Age()),
		zap.Duration("duration", duration))
}

func (s *Server) serveMiss(ctx *fasthttp.RequestCtx, logger *zap.Logger, key, uri string, start time.Time) {
	s.metrics.RecordCacheMiss()

	// Captured before rendering so an invalidation during the fetch discards the result
	generation := s.cache.Generation()

	resp, ok := s.fetch(ctx, logger, metrics.CacheMiss, start)
	if !ok {
		return
	}

	body := resp.Body
	if resp.StatusCode == fasthttp.StatusOK && resp.IsHTML() {
		body = s.rewriteAssets(body)
		s.store(logger, key, uri, body, generation)
		s.copyHeaders(ctx, resp)
		body = s.rewriteImages(ctx, body)
		status := s.writePage(ctx, resp.StatusCode, resp.ContentType, body, metrics.CacheMiss)
		s.metrics.RecordRequest(metrics.CacheMiss, status, time.Since(start))

		logger.Info("Rendered by origin",
			zap.String("uri", uri),
			zap.Int("status_code", resp.StatusCode),
			zap.Int("response_size", len(body)),
			zap.Duration("origin_duration", resp.Duration))
		return
	}

	s.copyHeaders(ctx, resp)
	ctx.Response.Header.Set(HeaderCache, metrics.CacheMiss)
	ctx.SetStatusCode(resp.StatusCode)
	if resp.ContentType != "" {
		ctx.SetContentType(resp.ContentType)
	}
	ctx.SetBody(body)
	s.metrics.RecordRequest(metrics.CacheMiss, resp.StatusCode, time.Since(start))
}

func (s *Server) serveBypass(ctx *fasthttp.RequestCtx, logger *zap.Logger, reason string, start time.Time) {
	s.metrics.RecordBypass(reason)

	resp, ok := s.fetch(ctx, logger, metrics.CacheBypass, start)
	if !ok {
		return
	}

	s.copyHeaders(ctx, resp)

	body := resp.Body
	if resp.StatusCode == fasthttp.StatusOK && resp.IsHTML() && reason != pagecache.ReasonAdminPath {
		body = s.rewriteImages(ctx, s.rewriteAssets(body))
	}

	ctx.Response.Header.Set(HeaderCache, metrics.CacheBypass)
	ctx.SetStatusCode(resp.StatusCode)
	if resp.ContentType != "" {
		ctx.SetContentType(resp.ContentType)
	}
	ctx.SetBody(body)

	s.metrics.RecordRequest(metrics.CacheBypass, resp.StatusCode, time.Since(start))
	logger.Debug("Bypassed page cache",
		zap.String("reason", reason),
		zap.String("uri", string(ctx.RequestURI())),
		zap.Int("status_code", resp.StatusCode))
}

// fetch forwards the request to the origin, answering 502 on failure
func (s *Server) fetch(ctx *fasthttp.RequestCtx, logger *zap.Logger, cacheStatus string, start time.Time) (*origin.Response, bool) {
	host := s.cfg.SiteHost
	if host == "" {
		host = string(ctx.Host())
	}
	resp, err := s.origin.Fetch(&ctx.Request, host)
	if err != nil {
		logger.Warn("Origin unavailable, returning 502 Bad Gateway",
			zap.String("uri", string(ctx.RequestURI())),
			zap.Error(err))
		s.metrics.RecordError("origin_unavailable")
		ctx.Response.Header.Set(HeaderCache, cacheStatus)
		s.writeError(ctx, fasthttp.StatusBadGateway, "Bad Gateway: Origin unreachable")
		s.metrics.RecordRequest(cacheStatus, fasthttp.StatusBadGateway, time.Since(start))
		return nil, false
	}
	s.metrics.RecordOriginDuration(resp.StatusCode, resp.Duration)
	return resp, true
}

func (s *Server) store(logger *zap.Logger, key, uri string, body []byte, generation uint64) {
	storeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()

	err := s.cache.Store(storeCtx, key, uri, body, generation)
	switch {
	case err == nil:
		s.metrics.RecordCacheStore("stored")
	case errors.Is(err, pagecache.ErrStaleGeneration):
		s.metrics.RecordCacheStore("stale")
		logger.Debug("Discarded render started before invalidation", zap.String("uri", uri))
	default:
		s.metrics.RecordCacheStore("error")
		s.metrics.RecordError("cache_store")
		logger.Warn("Failed to store page", zap.String("uri", uri), zap.Error(err))
	}
}

func (s *Server) rewriteAssets(body []byte) []byte {
	if s.assets == nil {
		return body
	}
	out, changed := s.assets.RewriteHTML(body)
	if changed {
		s.metrics.RecordAssetRewrite()
	}
	return out
}

func (s *Server) rewriteImages(ctx *fasthttp.RequestCtx, body []byte) []byte {
	if s.images == nil {
		return body
	}
	ctx.Response.Header.Add("Vary", "Accept")
	out, changed := s.images.RewriteHTML(body, string(ctx.Request.Header.Peek("Accept")))
	if changed {
		s.metrics.RecordWebPSwap()
	}
	return out
}

// writePage sends an HTML page with an ETag, answering 304 when the client copy matches
func (s *Server) writePage(ctx *fasthttp.RequestCtx, status int, contentType string, body []byte, cacheStatus string) int {
	etag := ETag(body)
	ctx.Response.Header.Set(HeaderCache, cacheStatus)
	ctx.Response.Header.Set("ETag", etag)

	if status == fasthttp.StatusOK && NotModified(string(ctx.Request.Header.Peek("If-None-Match")), etag) {
		ctx.SetStatusCode(fasthttp.StatusNotModified)
		ctx.Response.SkipBody = true
		s.metrics.RecordNotModified()
		return fasthttp.StatusNotModified
	}

	ctx.SetStatusCode(status)
	ctx.SetContentType(contentType)
	ctx.SetBody(body)
	return status
}

// replacedHeaders are set by the gateway itself
var replacedHeaders = map[string]struct{}{
	"content-type": {},
	"etag":         {},
	"date":         {},
	"server":       {},
}

func (s *Server) copyHeaders(ctx *fasthttp.RequestCtx, resp *origin.Response) {
	for name, values := range resp.Headers {
		if _, skip := replacedHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, value := range values {
			ctx.Response.Header.Add(name, value)
		}
	}
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, statusCode int, message string) {
	ctx.Response.Header.Set("Content-Type", "text/plain")
	ctx.Response.SetStatusCode(statusCode)
	ctx.Response.SetBodyString(message)
}
