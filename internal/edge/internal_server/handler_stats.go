package internal_server

import (
	"context"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/httputil"
	"github.com/adminx/perfgate/pkg/types"
)

// CacheStatsSource reports page cache usage
type CacheStatsSource interface {
	Stats() (types.CacheStats, error)
}

// AssetStatsSource reports optimized asset usage
type AssetStatsSource interface {
	Stats() (types.AssetStats, error)
}

// ImageStatsSource reports image optimization progress
type ImageStatsSource interface {
	Stats(ctx context.Context) (types.ImageStats, error)
}

// DatabaseStatsSource reports table sizes and cleanup candidates
type DatabaseStatsSource interface {
	Stats(ctx context.Context) (types.DatabaseStats, error)
}

// CacheGauges receives the cache size after each stats read
type CacheGauges interface {
	UpdateCacheStats(files int, size int64)
}

// StatsReport is the body of GET /internal/stats. Sections whose source is
// not configured or failed are omitted and the failure listed in Errors.
type StatsReport struct {
	Cache    *types.CacheStats    `json:"cache,omitempty"`
	Assets   *types.AssetStats    `json:"assets,omitempty"`
	Images   *types.ImageStats    `json:"images,omitempty"`
	Database *types.DatabaseStats `json:"database,omitempty"`
	Errors   map[string]string    `json:"errors,omitempty"`
}

// StatsHandler aggregates statistics from every component
type StatsHandler struct {
	cache    CacheStatsSource
	assets   AssetStatsSource
	images   ImageStatsSource
	database DatabaseStatsSource
	gauges   CacheGauges
	logger   *zap.Logger
}

// NewStatsHandler creates a stats handler. Every source may be nil.
func NewStatsHandler(cache CacheStatsSource, assets AssetStatsSource, images ImageStatsSource, database DatabaseStatsSource, gauges CacheGauges, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		cache:    cache,
		assets:   assets,
		images:   images,
		database: database,
		gauges:   gauges,
		logger:   logger,
	}
}

// RegisterEndpoints registers the stats handler with the internal server
func (h *StatsHandler) RegisterEndpoints(server *InternalServer) {
	server.RegisterHandler(fasthttp.MethodGet, PathStats, h.handleStats)
}

// handleStats returns cache, asset, image and database statistics
// GET /internal/stats
func (h *StatsHandler) handleStats(ctx *fasthttp.RequestCtx) {
	report := h.Collect(ctx)
	httputil.JSONData(ctx, report)
}

// Collect gathers every configured section
func (h *StatsHandler) Collect(ctx context.Context) StatsReport {
	report := StatsReport{}
	fail := func(section string, err error) {
		h.logger.Warn("Failed to collect stats", zap.String("section", section), zap.Error(err))
		if report.Errors == nil {
			report.Errors = make(map[string]string)
		}
		report.Errors[section] = err.Error()
	}

	if h.cache != nil {
		if stats, err := h.cache.Stats(); err != nil {
			fail("cache", err)
		} else {
			report.Cache = &stats
			if h.gauges != nil {
				h.gauges.UpdateCacheStats(stats.TotalFiles, stats.TotalSize)
			}
		}
	}
	if h.assets != nil {
		if stats, err := h.assets.Stats(); err != nil {
			fail("assets", err)
		} else {
			report.Assets = &stats
		}
	}
	if h.images != nil {
		if stats, err := h.images.Stats(ctx); err != nil {
			fail("images", err)
		} else {
			report.Images = &stats
		}
	}
	if h.database != nil {
		if stats, err := h.database.Stats(ctx); err != nil {
			fail("database", err)
		} else {
			report.Database = &stats
		}
	}
	return report
}
