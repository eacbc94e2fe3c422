package internal_server

import (
	"context"
	"errors"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/edge/dbclean"
)

// DatabaseCleaner runs the full cleanup sequence
type DatabaseCleaner interface {
	RunComplete(ctx context.Context) (*dbclean.Result, error)
}

// DBHandler serves the manual database cleanup action
type DBHandler struct {
	cleaner DatabaseCleaner
	logger  *zap.Logger
}

// NewDBHandler creates a database handler. cleaner is nil when the database is disabled.
func NewDBHandler(cleaner DatabaseCleaner, logger *zap.Logger) *DBHandler {
	return &DBHandler{
		cleaner: cleaner,
		logger:  logger,
	}
}

// RegisterEndpoints registers the database handlers with the internal server
func (h *DBHandler) RegisterEndpoints(server *InternalServer) {
	server.RegisterHandler(fasthttp.MethodPost, PathDBCleanup, h.handleCleanup)
}

// handleCleanup runs every cleanup step followed by OPTIMIZE TABLE
// POST /internal/db/cleanup
func (h *DBHandler) handleCleanup(ctx *fasthttp.RequestCtx) {
	if h.cleaner == nil {
		httputil.JSONError(ctx, "database not configured", fasthttp.StatusServiceUnavailable)
		return
	}

	result, err := h.cleaner.RunComplete(ctx)
	if err != nil {
		if errors.Is(err, dbclean.ErrAlreadyRunning) || errors.Is(err, dbclean.ErrLockHeld) {
			httputil.JSONError(ctx, err.Error(), fasthttp.StatusConflict)
			return
		}
		h.logger.Error("Database cleanup failed", zap.Error(err))
		httputil.JSONError(ctx, "failed to run database cleanup: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}

	message := "Database cleanup completed"
	if result.Failed() {
		message = "Database cleanup completed with errors"
	}
	httputil.JSONSuccess(ctx, message, result)
}
