package types

// Compression algorithms for page cache files
const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

// File extensions appended to compressed cache files
const (
	ExtSnappy = ".snappy"
	ExtLZ4    = ".lz4"
)

// CompressionMinSize is the smallest body worth compressing
const CompressionMinSize = 1024

// Supported raster MIME types
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeGIF  = "image/gif"
	MimeWebP = "image/webp"
)

// Asset kinds handled by the optimizer
const (
	AssetCSS = "css"
	AssetJS  = "js"
)

// Directory names under the uploads base directory
const (
	PageCacheDirName = "adminx-cache"
	OptimizedDirName = "adminx-optimized"
)

// Attachment meta keys
const (
	MetaOptimized    = "_adminx_optimized"
	MetaSizeSavings  = "_adminx_size_savings"
	MetaAttachedFile = "_wp_attached_file"
)

// CacheStats describes the page cache directory
type CacheStats struct {
	TotalFiles int    `json:"total_files"`
	TotalSize  int64  `json:"total_size"`
	CacheDir   string `json:"cache_dir"`
}

// AssetStats describes the optimized asset directories
type AssetStats struct {
	CSSFiles  int   `json:"css_files"`
	JSFiles   int   `json:"js_files"`
	TotalSize int64 `json:"total_size"`
}

// ImageStats describes image optimization progress
type ImageStats struct {
	TotalImages         int64   `json:"total_images"`
	OptimizedImages     int64   `json:"optimized_images"`
	TotalSavings        int64   `json:"total_savings"`
	PercentageOptimized float64 `json:"percentage_optimized"`
}

// BulkResult is returned by one bulk image optimization batch
type BulkResult struct {
	Optimized  int   `json:"optimized"`
	Skipped    int   `json:"skipped"`
	BytesSaved int64 `json:"bytes_saved"`
	Remaining  int64 `json:"remaining"`
}

// TableSize is one row of the database size report
type TableSize struct {
	Table  string  `json:"table"`
	SizeMB float64 `json:"size_mb"`
}

// DatabaseCounts holds row counts shown next to the cleanup action
type DatabaseCounts struct {
	Posts               int64 `json:"posts"`
	Revisions           int64 `json:"revisions"`
	TrashPosts          int64 `json:"trash_posts"`
	SpamComments        int64 `json:"spam_comments"`
	TrashComments       int64 `json:"trash_comments"`
	Transients          int64 `json:"transients"`
	OrphanedPostMeta    int64 `json:"orphaned_postmeta"`
	OrphanedCommentMeta int64 `json:"orphaned_commentmeta"`
	UnusedTags          int64 `json:"unused_tags"`
}

// DatabaseStats is the database section of the stats report
type DatabaseStats struct {
	Tables      []TableSize    `json:"tables"`
	Counts      DatabaseCounts `json:"counts"`
	TotalSizeMB float64        `json:"total_size_mb"`
}

// Attachment is a media library item backed by a file under uploads
type Attachment struct {
	ID       int64  `json:"id"`
	File     string `json:"file"`
	MimeType string `json:"mime_type"`
}
