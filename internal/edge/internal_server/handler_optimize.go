package internal_server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/edge/images"
	"github.com/adminx/perfgate/pkg/types"
)

// maxBulkLimit caps one bulk request
const maxBulkLimit = 100

// AssetCache is the optimized asset store
type AssetCache interface {
	Clear() (int, error)
}

// ImageOptimizer recompresses media library images
type ImageOptimizer interface {
	BulkOptimize(ctx context.Context, limit int) (types.BulkResult, error)
	OnUpload(file, mime string) (int64, error)
	OnAttachmentAdded(ctx context.Context, id int64) (bool, error)
}

// ImageRecorder counts optimized images
type ImageRecorder interface {
	RecordImagesOptimized(trigger string, count int, bytesSaved int64)
}

// OptimizeHandler serves asset and image optimization actions
type OptimizeHandler struct {
	assets    AssetCache
	images    ImageOptimizer
	bulkLimit int
	recorder  ImageRecorder
	logger    *zap.Logger
}

// NewOptimizeHandler creates an optimization handler. Any dependency may be
// nil; its endpoints then answer 503.
func NewOptimizeHandler(assets AssetCache, imageOptimizer ImageOptimizer, bulkLimit int, recorder ImageRecorder, logger *zap.Logger) *OptimizeHandler {
	if bulkLimit <= 0 {
		bulkLimit = images.DefaultBulkLimit
	}
	return &OptimizeHandler{
		assets:    assets,
		images:    imageOptimizer,
		bulkLimit: bulkLimit,
		recorder:  recorder,
		logger:    logger,
	}
}

// RegisterEndpoints registers the optimization handlers with the internal server
func (h *OptimizeHandler) RegisterEndpoints(server *InternalServer) {
	server.RegisterHandler(fasthttp.MethodPost, PathAssetsClear, h.handleAssetsClear)
	server.RegisterHandler(fasthttp.MethodPost, PathImagesBulk, h.handleBulk)
	server.RegisterHandler(fasthttp.MethodPost, PathEventUpload, h.handleUpload)
	server.RegisterHandler(fasthttp.MethodPost, PathEventAttachmentAdded, h.handleAttachmentAdded)
}

type uploadRequest struct {
	File string `json:"file"`
	Type string `json:"type"`
}

type attachmentRequest struct {
	AttachmentID int64 `json:"attachment_id"`
}

// handleAssetsClear deletes every minified copy
// POST /internal/assets/clear
func (h *OptimizeHandler) handleAssetsClear(ctx *fasthttp.RequestCtx) {
	if h.assets == nil {
		httputil.JSONError(ctx, "asset optimizer not configured", fasthttp.StatusServiceUnavailable)
		return
	}
	removed, err := h.assets.Clear()
	if err != nil {
		h.logger.Error("Failed to clear optimization cache", zap.Error(err))
		httputil.JSONError(ctx, "failed to clear optimization cache: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	httputil.JSONSuccess(ctx, "Optimization cache cleared successfully", map[string]int{"removed": removed})
}

// handleBulk optimizes one batch of unoptimized images
// POST /internal/images/bulk?limit=N
func (h *OptimizeHandler) handleBulk(ctx *fasthttp.RequestCtx) {
	if h.images == nil {
		httputil.JSONError(ctx, "image optimizer not configured", fasthttp.StatusServiceUnavailable)
		return
	}
	limit, err := httputil.QueryInt(ctx, "limit", h.bulkLimit, 1, maxBulkLimit)
	if err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}

	result, err := h.images.BulkOptimize(ctx, limit)
	if err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, images.ErrNoStore) {
			status = fasthttp.StatusServiceUnavailable
		}
		h.logger.Error("Bulk image optimization failed", zap.Error(err))
		httputil.JSONError(ctx, "failed to optimize images: "+err.Error(), status)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordImagesOptimized("bulk", result.Optimized, result.BytesSaved)
	}

	message := fmt.Sprintf("Optimized %d images.", result.Optimized)
	if result.Remaining > 0 {
		message += fmt.Sprintf(" %d images remaining.", result.Remaining)
	}
	httputil.JSONSuccess(ctx, message, result)
}

// handleUpload compresses a freshly uploaded file
// POST /internal/events/upload {"file": "2024/05/a.jpg", "type": "image/jpeg"}
func (h *OptimizeHandler) handleUpload(ctx *fasthttp.RequestCtx) {
	if h.images == nil {
		httputil.JSONError(ctx, "image optimizer not configured", fasthttp.StatusServiceUnavailable)
		return
	}
	var req uploadRequest
	if err := httputil.DecodeJSONBody(ctx, &req); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.File) == "" {
		httputil.JSONError(ctx, "file is required", fasthttp.StatusBadRequest)
		return
	}

	saved, err := h.images.OnUpload(req.File, req.Type)
	if err != nil {
		status := fasthttp.StatusInternalServerError
		if errors.Is(err, images.ErrOutsideUploads) {
			status = fasthttp.StatusBadRequest
		}
		h.logger.Warn("Upload optimization failed", zap.String("file", req.File), zap.Error(err))
		httputil.JSONError(ctx, err.Error(), status)
		return
	}
	if h.recorder != nil && saved > 0 {
		h.recorder.RecordImagesOptimized("upload", 1, saved)
	}
	httputil.JSONData(ctx, map[string]int64{"bytes_saved": saved})
}

// handleAttachmentAdded creates the WebP sibling of a new attachment
// POST /internal/events/attachment-added {"attachment_id": 12}
func (h *OptimizeHandler) handleAttachmentAdded(ctx *fasthttp.RequestCtx) {
	if h.images == nil {
		httputil.JSONError(ctx, "image optimizer not configured", fasthttp.StatusServiceUnavailable)
		return
	}
	var req attachmentRequest
	if err := httputil.DecodeJSONBody(ctx, &req); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if req.AttachmentID <= 0 {
		httputil.JSONError(ctx, "attachment_id must be positive", fasthttp.StatusBadRequest)
		return
	}

	created, err := h.images.OnAttachmentAdded(ctx, req.AttachmentID)
	if err != nil {
		status := fasthttp.StatusInternalServerError
		switch {
		case errors.Is(err, images.ErrNoStore):
			status = fasthttp.StatusServiceUnavailable
		case errors.Is(err, images.ErrOutsideUploads):
			status = fasthttp.StatusBadRequest
		}
		h.logger.Warn("WebP creation failed", zap.Int64("attachment_id", req.AttachmentID), zap.Error(err))
		httputil.JSONError(ctx, err.Error(), status)
		return
	}
	httputil.JSONData(ctx, map[string]bool{"webp_created": created})
}
