package metricsserver

import (
	"net"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
)

// MetricsHandler serves the Prometheus exposition format
type MetricsHandler interface {
	ServeHTTP(ctx *fasthttp.RequestCtx)
}

// Start binds the metrics listener and serves it in the background.
// Returns nil when metrics are disabled. Binding happens synchronously so
// a port conflict is reported to the caller instead of a goroutine.
func Start(cfg configtypes.MetricsConfig, handler MetricsHandler, logger *zap.Logger) (*fasthttp.Server, error) {
	if !cfg.Enabled {
		logger.Info("Metrics collection disabled")
		return nil, nil
	}

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}

	server := &fasthttp.Server{
		Handler:            newHandler(cfg.Path, handler),
		Name:               "AdminX-Metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 * 1024,
		TCPKeepalive:       true,
		TCPKeepalivePeriod: 30 * time.Second,
		MaxConnsPerIP:      100,
		Concurrency:        100,
	}

	logger.Info("Metrics server listening",
		zap.String("listen", ln.Addr().String()),
		zap.String("path", cfg.Path))

	go func() {
		if err := server.Serve(ln); err != nil {
			logger.Error("Metrics server stopped", zap.String("listen", cfg.Listen), zap.Error(err))
		}
	}()

	return server, nil
}

func newHandler(path string, metrics MetricsHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case path:
			metrics.ServeHTTP(ctx)
		case "/healthz":
			ctx.SetContentType("text/plain")
			ctx.SetBodyString("ok")
		default:
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		}
	}
}
