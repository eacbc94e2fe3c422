package internal_server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/common/requestid"
)

// Path constants for internal endpoints
const (
	PathCacheClear           = "/internal/cache/clear"
	PathCacheEntries         = "/internal/cache/entries"
	PathAssetsClear          = "/internal/assets/clear"
	PathDBCleanup            = "/internal/db/cleanup"
	PathImagesBulk           = "/internal/images/bulk"
	PathPerfTest             = "/internal/perf/test"
	PathStats                = "/internal/stats"
	PathEventPostSaved       = "/internal/events/post-saved"
	PathEventMenuUpdated     = "/internal/events/menu-updated"
	PathEventUpload          = "/internal/events/upload"
	PathEventAttachmentAdded = "/internal/events/attachment-added"
	PathLogLevel             = "/internal/log/level"
	PathHealth               = "/internal/health"
)

// HeaderAuth carries the shared admin key
const HeaderAuth = "X-Internal-Auth"

// InternalServer serves the authenticated admin API used by perfctl and the WordPress bridge
type InternalServer struct {
	authKey   []byte
	routes    map[string]*route
	prefixed  []*route // longest path first
	server    *fasthttp.Server
	listener  net.Listener
	address   string
	logger    *zap.Logger
	startTime time.Time
}

// route holds the handlers of one admin path by method
type route struct {
	path     string
	handlers map[string]fasthttp.RequestHandler
}

func (r *route) allowed() string {
	methods := make([]string, 0, len(r.handlers))
	for m := range r.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}

// NewInternalServer creates the admin server. Every request must carry authKey in X-Internal-Auth.
func NewInternalServer(authKey string, logger *zap.Logger) *InternalServer {
	return &InternalServer{
		authKey:   []byte(authKey),
		routes:    make(map[string]*route),
		logger:    logger,
		startTime: time.Now().UTC(),
	}
}

// RegisterHandler registers handler for method on path and on any sub-path of it.
// Registration must finish before Start.
func (s *InternalServer) RegisterHandler(method, path string, handler fasthttp.RequestHandler) {
	r, ok := s.routes[path]
	if !ok {
		r = &route{path: path, handlers: make(map[string]fasthttp.RequestHandler)}
		s.routes[path] = r
		s.prefixed = append(s.prefixed, r)
		sort.SliceStable(s.prefixed, func(i, j int) bool { return len(s.prefixed[i].path) > len(s.prefixed[j].path) })
	}

	if _, exists := r.handlers[method]; exists {
		s.logger.Warn("Overwriting existing handler registration",
			zap.String("method", method),
			zap.String("path", path))
	}

	r.handlers[method] = handler
	s.logger.Debug("Registered internal handler",
		zap.String("method", method),
		zap.String("path", path))
}

// Start begins accepting HTTP requests on the given address
func (s *InternalServer) Start(address string) error {
	s.address = address

	s.server = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "PerfGateway-Internal",
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.listener = listener

	s.logger.Info("Internal server started",
		zap.String("address", address))

	return s.server.Serve(listener)
}

// Shutdown gracefully stops the internal server
func (s *InternalServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	s.logger.Info("Shutting down internal server")
	return s.server.ShutdownWithContext(ctx)
}

// Handler returns the admin request pipeline: panic recovery, audit log,
// authentication, then routing
func (s *InternalServer) Handler() fasthttp.RequestHandler {
	return s.recoverPanic(s.audit(s.requireAuth(s.dispatch)))
}

// recoverPanic turns a handler panic (a corrupt image, a driver bug) into a
// JSON 500 so one admin action cannot take the gateway down
func (s *InternalServer) recoverPanic(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Admin handler panicked",
					zap.String("method", string(ctx.Method())),
					zap.String("path", string(ctx.Path())),
					zap.Any("panic", r),
					zap.Stack("stack"))
				ctx.Response.Reset()
				httputil.JSONError(ctx, "internal error", fasthttp.StatusInternalServerError)
			}
		}()
		next(ctx)
	}
}

// audit tags each call with a request id and logs its outcome. State-changing
// actions are logged at INFO, reads at DEBUG.
func (s *InternalServer) audit(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		id := requestid.FromRequest(ctx)
		next(ctx)

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", string(ctx.Method())),
			zap.String("path", string(ctx.Path())),
			zap.Int("status_code", ctx.Response.StatusCode()),
			zap.String("remote_addr", ctx.RemoteAddr().String()),
			zap.Duration("duration", time.Since(start)),
		}
		if ctx.IsGet() || ctx.IsHead() {
			s.logger.Debug("Admin request", fields...)
			return
		}
		s.logger.Info("Admin action", fields...)
	}
}

// requireAuth rejects calls without the shared admin key
func (s *InternalServer) requireAuth(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		key := ctx.Request.Header.Peek(HeaderAuth)
		if len(key) == 0 || subtle.ConstantTimeCompare(key, s.authKey) != 1 {
			s.logger.Warn("Rejected admin request",
				zap.Bool("key_present", len(key) > 0),
				zap.String("remote_addr", ctx.RemoteAddr().String()),
				zap.String("path", string(ctx.Path())))
			httputil.JSONError(ctx, "unauthorized", fasthttp.StatusUnauthorized)
			return
		}
		next(ctx)
	}
}

// dispatch picks the route by exact path, then by the longest registered
// prefix, and answers 405 with an Allow header when the method is not served
func (s *InternalServer) dispatch(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())

	r, ok := s.routes[path]
	if !ok {
		for _, candidate := range s.prefixed {
			if isPrefixMatch(path, candidate.path) {
				r, ok = candidate, true
				break
			}
		}
	}
	if !ok {
		httputil.JSONError(ctx, fmt.Sprintf("unknown admin endpoint %s", path), fasthttp.StatusNotFound)
		return
	}

	method := string(ctx.Method())
	handler, ok := r.handlers[method]
	if !ok {
		allowed := r.allowed()
		ctx.Response.Header.Set("Allow", allowed)
		httputil.JSONError(ctx, fmt.Sprintf("method %s not allowed on %s, use %s", method, r.path, allowed),
			fasthttp.StatusMethodNotAllowed)
		return
	}
	handler(ctx)
}

// isPrefixMatch checks if requestPath matches a registered path with prefix matching
func isPrefixMatch(requestPath, registeredPath string) bool {
	if len(requestPath) < len(registeredPath) {
		return false
	}
	return requestPath[:len(registeredPath)] == registeredPath &&
		(len(requestPath) == len(registeredPath) || requestPath[len(registeredPath)] == '/')
}

// StartTime returns when the server was created
func (s *InternalServer) StartTime() time.Time {
	return s.startTime
}

// Addr returns the address the server is listening on
func (s *InternalServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.address
}
