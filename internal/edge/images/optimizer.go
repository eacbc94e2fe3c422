package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/internal/common/fsutil"
	"github.com/adminx/perfgate/internal/common/urlutil"
	"github.com/adminx/perfgate/pkg/types"
)

// DefaultBulkLimit is the batch size used when none is given
const DefaultBulkLimit = 10

var (
	// ErrNoStore is returned by operations that need the attachment database
	ErrNoStore = errors.New("attachment store not configured")
	// ErrOutsideUploads rejects paths that escape the uploads directory
	ErrOutsideUploads = errors.New("path is outside the uploads directory")
)

// AttachmentStore reads and marks media library attachments
type AttachmentStore interface {
	UnoptimizedAttachments(ctx context.Context, limit int) ([]types.Attachment, error)
	CountUnoptimized(ctx context.Context) (int64, error)
	Attachment(ctx context.Context, id int64) (types.Attachment, bool, error)
	MarkOptimized(ctx context.Context, id int64, savings int64) error
	ImageCounts(ctx context.Context) (total, optimized, savings int64, err error)
}

// Config configures an Optimizer
type Config struct {
	UploadsURL string
	UploadsDir string
	// BulkLimit is used when BulkOptimize is called without a limit
	BulkLimit int
}

// Optimizer recompresses uploaded images and maintains WebP siblings
type Optimizer struct {
	uploads   *urlutil.SiteMapper
	bulkLimit int
	store     AttachmentStore
	options   configtypes.OptionsProvider
	logger    *zap.Logger
}

// NewOptimizer creates an image optimizer. store may be nil when the database
// is disabled; bulk mode and stats then report ErrNoStore.
func NewOptimizer(cfg Config, store AttachmentStore, options configtypes.OptionsProvider, logger *zap.Logger) (*Optimizer, error) {
	uploads, err := urlutil.NewSiteMapper(cfg.UploadsURL, cfg.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("image optimizer: %w", err)
	}
	limit := cfg.BulkLimit
	if limit <= 0 {
		limit = DefaultBulkLimit
	}
	return &Optimizer{
		uploads:   uploads,
		bulkLimit: limit,
		store:     store,
		options:   options,
		logger:    logger,
	}, nil
}

// ResolvePath maps an attachment file, absolute or relative to the uploads
// directory, to a path inside the uploads directory.
func (o *Optimizer) ResolvePath(file string) (string, error) {
	root := o.uploads.Root()
	p := file
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	if !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideUploads, file)
	}
	return p, nil
}

// CompressFile re-encodes the image at path in place and returns the bytes
// saved. The original is kept when the new encoding is not smaller.
// Unsupported types and undecodable files are skipped without error.
func (o *Optimizer) CompressFile(path, mime string) (int64, error) {
	if !Supported(mime) {
		return 0, nil
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read image: %w", err)
	}

	img, err := decode(bytes.NewReader(original), mime)
	if err != nil {
		o.logger.Debug("Skipping undecodable image", zap.String("path", path), zap.Error(err))
		return 0, nil
	}

	quality := o.options.Options().ImageQuality
	encoded, err := encode(img, mime, quality)
	if err != nil {
		o.logger.Warn("Image encoding failed", zap.String("path", path), zap.Error(err))
		return 0, nil
	}

	if len(encoded) >= len(original) {
		o.logger.Debug("Recompressed image not smaller, keeping original",
			zap.String("path", path),
			zap.Int("original_size", len(original)),
			zap.Int("encoded_size", len(encoded)))
		return 0, nil
	}

	if err := fsutil.WriteAtomic(path, encoded); err != nil {
		return 0, fmt.Errorf("write compressed image: %w", err)
	}

	saved := int64(len(original) - len(encoded))
	o.logger.Debug("Image compressed",
		zap.String("path", path),
		zap.String("mime", mime),
		zap.Int("quality", quality),
		zap.Int64("saved", saved))
	return saved, nil
}

// CreateWebP writes a .webp sibling of the image at path unless one exists or
// the encoding is not smaller than the source. Returns whether a file was written.
func (o *Optimizer) CreateWebP(path, mime string) (bool, error) {
	if !o.options.Options().WebPEnabled || !Supported(mime) {
		return false, nil
	}
	webpPath, ok := WebPPath(path)
	if !ok {
		return false, nil
	}
	if fsutil.Exists(webpPath) {
		return false, nil
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read image: %w", err)
	}
	img, err := decode(bytes.NewReader(original), mime)
	if err != nil {
		o.logger.Debug("Skipping WebP for undecodable image", zap.String("path", path), zap.Error(err))
		return false, nil
	}

	quality := o.options.Options().WebPQuality
	data, err := encodeWebP(img, mime, quality)
	if err != nil {
		o.logger.Warn("WebP encoding failed", zap.String("path", path), zap.Error(err))
		return false, nil
	}
	// A sibling is only served when it beats the source
	if len(data) >= len(original) {
		o.logger.Debug("WebP not smaller than source, skipping",
			zap.String("path", path),
			zap.Int("original_size", len(original)),
			zap.Int("webp_size", len(data)))
		return false, nil
	}
	if err := fsutil.WriteAtomic(webpPath, data); err != nil {
		return false, fmt.Errorf("write webp: %w", err)
	}

	o.logger.Debug("WebP created",
		zap.String("path", webpPath),
		zap.Int("quality", quality),
		zap.Int("size", len(data)))
	return true, nil
}

// OnUpload compresses a freshly uploaded file when image optimization is on
func (o *Optimizer) OnUpload(file, mime string) (int64, error) {
	if !o.options.Options().ImageOptimization || !strings.HasPrefix(mime, "image/") {
		return 0, nil
	}
	path, err := o.ResolvePath(file)
	if err != nil {
		return 0, err
	}
	return o.CompressFile(path, mime)
}

// OnAttachmentAdded creates the WebP sibling of a new attachment
func (o *Optimizer) OnAttachmentAdded(ctx context.Context, id int64) (bool, error) {
	if !o.options.Options().WebPEnabled {
		return false, nil
	}
	if o.store == nil {
		return false, ErrNoStore
	}

	att, found, err := o.store.Attachment(ctx, id)
	if err != nil {
		return false, err
	}
	if !found || !Supported(att.MimeType) {
		return false, nil
	}

	path, err := o.ResolvePath(att.File)
	if err != nil {
		return false, err
	}
	return o.CreateWebP(path, att.MimeType)
}

// BulkOptimize processes at most limit unmarked attachments. Attachments whose
// file is missing are marked with zero savings and counted as skipped.
func (o *Optimizer) BulkOptimize(ctx context.Context, limit int) (types.BulkResult, error) {
	var result types.BulkResult
	if o.store == nil {
		return result, ErrNoStore
	}
	if limit <= 0 {
		limit = o.bulkLimit
	}

	attachments, err := o.store.UnoptimizedAttachments(ctx, limit)
	if err != nil {
		return result, err
	}

	for _, att := range attachments {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		savings, ok := o.optimizeAttachment(att)
		if err := o.store.MarkOptimized(ctx, att.ID, savings); err != nil {
			return result, fmt.Errorf("mark attachment %d: %w", att.ID, err)
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.Optimized++
		result.BytesSaved += savings
	}

	remaining, err := o.store.CountUnoptimized(ctx)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining

	o.logger.Info("Bulk image optimization batch finished",
		zap.Int("optimized", result.Optimized),
		zap.Int("skipped", result.Skipped),
		zap.Int64("bytes_saved", result.BytesSaved),
		zap.Int64("remaining", result.Remaining))
	return result, nil
}

// optimizeAttachment compresses one attachment and creates its WebP sibling.
// ok is false when the file is missing.
func (o *Optimizer) optimizeAttachment(att types.Attachment) (int64, bool) {
	path, err := o.ResolvePath(att.File)
	if err != nil {
		o.logger.Warn("Skipping attachment", zap.Int64("attachment_id", att.ID), zap.Error(err))
		return 0, false
	}
	if !fsutil.Exists(path) {
		o.logger.Debug("Attachment file missing", zap.Int64("attachment_id", att.ID), zap.String("path", path))
		return 0, false
	}

	savings, err := o.CompressFile(path, att.MimeType)
	if err != nil {
		o.logger.Warn("Compression failed", zap.Int64("attachment_id", att.ID), zap.Error(err))
	}
	if _, err := o.CreateWebP(path, att.MimeType); err != nil {
		o.logger.Warn("WebP creation failed", zap.Int64("attachment_id", att.ID), zap.Error(err))
	}
	return savings, true
}

// Stats reports optimization progress across the media library
func (o *Optimizer) Stats(ctx context.Context) (types.ImageStats, error) {
	if o.store == nil {
		return types.ImageStats{}, ErrNoStore
	}
	total, optimized, savings, err := o.store.ImageCounts(ctx)
	if err != nil {
		return types.ImageStats{}, err
	}

	stats := types.ImageStats{
		TotalImages:     total,
		OptimizedImages: optimized,
		TotalSavings:    savings,
	}
	if total > 0 {
		stats.PercentageOptimized = math.Round(float64(optimized)/float64(total)*10000) / 100
	}
	return stats, nil
}
