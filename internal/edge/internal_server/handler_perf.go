package internal_server

import (
	"context"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/edge/origin"
	"github.com/adminx/perfgate/internal/edge/perftest"
)

// PerfTester measures a page load
type PerfTester interface {
	Run(ctx context.Context, uri string) (*perftest.Result, error)
}

// PerfHandler serves the performance test action
type PerfHandler struct {
	tester PerfTester
	logger *zap.Logger
}

// NewPerfHandler creates a performance test handler
func NewPerfHandler(tester PerfTester, logger *zap.Logger) *PerfHandler {
	return &PerfHandler{
		tester: tester,
		logger: logger,
	}
}

// RegisterEndpoints registers the performance handler with the internal server
func (h *PerfHandler) RegisterEndpoints(server *InternalServer) {
	server.RegisterHandler(fasthttp.MethodPost, PathPerfTest, h.handlePerfTest)
}

type perfTestRequest struct {
	URI string `json:"uri"`
}

// handlePerfTest fetches a page from the origin and reports timings
// POST /internal/perf/test {"uri": "/about/"} (body optional)
func (h *PerfHandler) handlePerfTest(ctx *fasthttp.RequestCtx) {
	var req perfTestRequest
	if len(ctx.PostBody()) > 0 {
		if err := httputil.DecodeJSONBody(ctx, &req); err != nil {
			httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
			return
		}
	}
	if req.URI == "" {
		req.URI = string(ctx.QueryArgs().Peek("uri"))
	}

	result, err := h.tester.Run(ctx, req.URI)
	if err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, origin.ErrOriginUnavailable) || errors.Is(err, perftest.ErrOriginStatus) {
			status = fasthttp.StatusBadGateway
		}
		h.logger.Warn("Performance test failed", zap.String("uri", req.URI), zap.Error(err))
		httputil.JSONError(ctx, "performance test failed: "+err.Error(), status)
		return
	}
	httputil.JSONData(ctx, result)
}
