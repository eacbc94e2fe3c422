package internal_server

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/internal/common/redis"
	"github.com/adminx/perfgate/internal/edge/pagecache"
	"github.com/adminx/perfgate/pkg/types"
)

// PageCache is the page cache as seen by the admin API
type PageCache interface {
	InvalidateAll(ctx context.Context, reason string) (int, error)
	OnPostSaved(ctx context.Context, postID int64, isRevision bool) (int, error)
	OnMenuUpdated(ctx context.Context) (int, error)
	Entries(ctx context.Context) ([]redis.IndexedEntry, error)
	Stats() (types.CacheStats, error)
}

// InvalidationRecorder counts invalidations by reason
type InvalidationRecorder interface {
	RecordInvalidation(reason string)
}

// CacheHandler serves page cache administration and content change events
type CacheHandler struct {
	cache    PageCache
	recorder InvalidationRecorder
	logger   *zap.Logger
}

// NewCacheHandler creates a cache handler. recorder may be nil.
func NewCacheHandler(cache PageCache, recorder InvalidationRecorder, logger *zap.Logger) *CacheHandler {
	return &CacheHandler{
		cache:    cache,
		recorder: recorder,
		logger:   logger,
	}
}

// RegisterEndpoints registers the cache handlers with the internal server
func (h *CacheHandler) RegisterEndpoints(server *InternalServer) {
	server.RegisterHandler(fasthttp.MethodPost, PathCacheClear, h.handleClear)
	server.RegisterHandler(fasthttp.MethodGet, PathCacheEntries, h.handleEntries)
	server.RegisterHandler(fasthttp.MethodPost, PathEventPostSaved, h.handlePostSaved)
	server.RegisterHandler(fasthttp.MethodPost, PathEventMenuUpdated, h.handleMenuUpdated)
}

type postSavedRequest struct {
	PostID     int64 `json:"post_id"`
	IsRevision bool  `json:"is_revision"`
}

type invalidationResponse struct {
	Removed int `json:"removed"`
}

// handleClear removes every cached page
// POST /internal/cache/clear
func (h *CacheHandler) handleClear(ctx *fasthttp.RequestCtx) {
	removed, err := h.cache.InvalidateAll(ctx, pagecache.ReasonManual)
	if err != nil {
		h.logger.Error("Failed to clear page cache", zap.Error(err))
		httputil.JSONError(ctx, "failed to clear cache: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	h.record(pagecache.ReasonManual)
	httputil.JSONSuccess(ctx, "Cache cleared successfully", invalidationResponse{Removed: removed})
}

// handleEntries lists cached pages
// GET /internal/cache/entries
func (h *CacheHandler) handleEntries(ctx *fasthttp.RequestCtx) {
	entries, err := h.cache.Entries(ctx)
	if err != nil {
		h.logger.Error("Failed to list cache entries", zap.Error(err))
		httputil.JSONError(ctx, "failed to list cache entries: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []redis.IndexedEntry{}
	}
	httputil.JSONData(ctx, entries)
}

// handlePostSaved invalidates the cache after a content save
// POST /internal/events/post-saved {"post_id": 1, "is_revision": false}
func (h *CacheHandler) handlePostSaved(ctx *fasthttp.RequestCtx) {
	var req postSavedRequest
	if err := httputil.DecodeJSONBody(ctx, &req); err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if req.PostID <= 0 {
		httputil.JSONError(ctx, "post_id must be positive", fasthttp.StatusBadRequest)
		return
	}

	removed, err := h.cache.OnPostSaved(ctx, req.PostID, req.IsRevision)
	if err != nil {
		h.logger.Error("Post save invalidation failed", zap.Int64("post_id", req.PostID), zap.Error(err))
		httputil.JSONError(ctx, "failed to invalidate cache: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	if req.IsRevision {
		httputil.JSONSuccess(ctx, "Revision ignored", invalidationResponse{})
		return
	}
	h.record(pagecache.ReasonPostSaved)
	httputil.JSONSuccess(ctx, "Cache invalidated", invalidationResponse{Removed: removed})
}

// handleMenuUpdated invalidates the cache after a navigation menu change
// POST /internal/events/menu-updated
func (h *CacheHandler) handleMenuUpdated(ctx *fasthttp.RequestCtx) {
	removed, err := h.cache.OnMenuUpdated(ctx)
	if err != nil {
		h.logger.Error("Menu update invalidation failed", zap.Error(err))
		httputil.JSONError(ctx, "failed to invalidate cache: "+err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	h.record(pagecache.ReasonMenuUpdated)
	httputil.JSONSuccess(ctx, "Cache invalidated", invalidationResponse{Removed: removed})
}

func (h *CacheHandler) record(reason string) {
	if h.recorder != nil {
		h.recorder.RecordInvalidation(reason)
	}
}
