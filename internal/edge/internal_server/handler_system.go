package internal_server

import (
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/adminx/perfgate/internal/common/httputil"
)

// LevelController reads and changes the log level at runtime
type LevelController interface {
	SetLevel(level string) error
	Level() zapcore.Level
}

// SystemHandler serves health and log level endpoints
type SystemHandler struct {
	server     *InternalServer
	levels     LevelController
	instanceID string
	logger     *zap.Logger
}

// NewSystemHandler creates a system handler. levels may be nil.
func NewSystemHandler(levels LevelController, instanceID string, logger *zap.Logger) *SystemHandler {
	return &SystemHandler{
		levels:     levels,
		instanceID: instanceID,
		logger:     logger,
	}
}

// RegisterEndpoints registers the system handlers with the internal server
func (h *SystemHandler) RegisterEndpoints(server *InternalServer) {
	h.server = server
	server.RegisterHandler(fasthttp.MethodGet, PathHealth, h.handleHealth)
	if h.levels != nil {
		server.RegisterHandler(fasthttp.MethodGet, PathLogLevel, h.handleGetLevel)
		server.RegisterHandler(fasthttp.MethodPut, PathLogLevel, h.handleSetLevel)
	}
}

type healthResponse struct {
	Status     string    `json:"status"`
	InstanceID string    `json:"instance_id"`
	StartedAt  time.Time `json:"started_at"`
	Uptime     string    `json:"uptime"`
}

type levelRequest struct {
	Level string `json:"level"`
}

// handleHealth reports liveness
// GET /internal/health
func (h *SystemHandler) handleHealth(ctx *fasthttp.RequestCtx) {
	started := h.server.StartTime()
	httputil.JSONData(ctx, healthResponse{
		Status:     "ok",
		InstanceID: h.instanceID,
		StartedAt:  started,
		Uptime:     time.Since(started).Truncate(time.Second).String(),
	})
}

// GET /internal/log/level
func (h *SystemHandler) handleGetLevel(ctx *fasthttp.RequestCtx) {
	httputil.JSONData(ctx, levelRequest{Level: h.levels.Level().String()})
}

// PUT /internal/log/level {"level": "debug"}
func (h *SystemHandler) handleSetLevel(ctx *fasthttp.RequestCtx) {
	var req levelRequest
	if err := httputil.DecodeJSONBody(ctx, &req); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if err := h.levels.SetLevel(req.Level); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	h.logger.Info("Log level changed", zap.String("level", req.Level))
	httputil.JSONSuccess(ctx, "Log level updated", levelRequest{Level: h.levels.Level().String()})
}
