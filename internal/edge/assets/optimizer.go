package assets

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/internal/common/fsutil"
	"github.com/adminx/perfgate/internal/common/urlutil"
	"github.com/adminx/perfgate/pkg/types"
)

// Config configures an Optimizer
type Config struct {
	// SiteURL and DocumentRoot locate source files
	SiteURL      string
	DocumentRoot string
	// UploadsURL and UploadsDir locate the optimized copies
	UploadsURL string
	UploadsDir string
	// CriticalScripts are script ids that are never deferred
	CriticalScripts []string
}

// Optimizer serves minified copies of same-origin stylesheets and scripts.
// Copies are created lazily on first reference and reused until Clear.
type Optimizer struct {
	site     *urlutil.SiteMapper
	baseURL  string
	outDir   string
	critical map[string]struct{}
	options  configtypes.OptionsProvider
	logger   *zap.Logger
}

// NewOptimizer creates an optimizer writing below
// <UploadsDir>/adminx-optimized/{css,js}
func NewOptimizer(cfg Config, options configtypes.OptionsProvider, logger *zap.Logger) (*Optimizer, error) {
	site, err := urlutil.NewSiteMapper(cfg.SiteURL, cfg.DocumentRoot)
	if err != nil {
		return nil, fmt.Errorf("asset optimizer: %w", err)
	}
	if cfg.UploadsDir == "" || cfg.UploadsURL == "" {
		return nil, fmt.Errorf("asset optimizer: uploads dir and url are required")
	}

	critical := make(map[string]struct{}, len(cfg.CriticalScripts))
	for _, id := range cfg.CriticalScripts {
		critical[id] = struct{}{}
	}

	return &Optimizer{
		site:     site,
		baseURL:  strings.TrimRight(cfg.UploadsURL, "/") + "/" + types.OptimizedDirName,
		outDir:   filepath.Join(cfg.UploadsDir, types.OptimizedDirName),
		critical: critical,
		options:  options,
		logger:   logger,
	}, nil
}

// sourceExtensions lists the only file types read for each asset kind.
// Anything else below the document root (PHP, config files) is never copied.
var sourceExtensions = map[string]string{
	types.AssetCSS: ".css",
	types.AssetJS:  ".js",
}

// optimizedName returns <md5(src)>-<basename of the path>
func optimizedName(src string) string {
	sum := md5.Sum([]byte(src))
	base := src
	if u, err := url.Parse(src); err == nil {
		base = u.Path
	}
	return hex.EncodeToString(sum[:]) + "-" + path.Base(base)
}

// OptimizedURL returns the URL of the minified copy of src, creating it when
// missing. Foreign URLs, sources whose extension does not match kind and
// unreadable sources are returned unchanged.
func (o *Optimizer) OptimizedURL(kind, src string) string {
	ext, known := sourceExtensions[kind]
	if !known {
		return src
	}
	sourcePath, ok := o.site.LocalPath(src)
	if !ok || strings.ToLower(filepath.Ext(sourcePath)) != ext {
		return src
	}

	name := optimizedName(src)
	target := filepath.Join(o.outDir, kind, name)
	optimizedURL := o.baseURL + "/" + kind + "/" + name

	if fsutil.Exists(target) {
		return optimizedURL
	}

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		if !os.IsNotExist(err) {
			o.logger.Warn("Failed to read asset source", zap.String("path", sourcePath), zap.Error(err))
		}
		return src
	}

	var minified []byte
	if kind == types.AssetCSS {
		minified = MinifyCSS(content)
	} else {
		minified = MinifyJS(content)
	}

	if err := fsutil.WriteAtomic(target, minified); err != nil {
		o.logger.Error("Failed to write optimized asset", zap.String("path", target), zap.Error(err))
		return src
	}

	o.logger.Debug("Asset optimized",
		zap.String("src", src),
		zap.String("kind", kind),
		zap.Int("original_size", len(content)),
		zap.Int("minified_size", len(minified)))
	return optimizedURL
}

// Clear removes every optimized copy and returns how many files were deleted
func (o *Optimizer) Clear() (int, error) {
	total := 0
	for _, kind := range []string{types.AssetCSS, types.AssetJS} {
		removed, err := fsutil.RemoveFiles(filepath.Join(o.outDir, kind))
		total += removed
		if err != nil {
			return total, fmt.Errorf("clear %s assets: %w", kind, err)
		}
	}
	o.logger.Info("Optimized assets cleared", zap.Int("removed", total))
	return total, nil
}

// Stats counts the optimized copies on disk
func (o *Optimizer) Stats() (types.AssetStats, error) {
	var stats types.AssetStats

	cssFiles, cssSize, err := fsutil.DirStats(filepath.Join(o.outDir, types.AssetCSS))
	if err != nil {
		return stats, fmt.Errorf("css asset stats: %w", err)
	}
	jsFiles, jsSize, err := fsutil.DirStats(filepath.Join(o.outDir, types.AssetJS))
	if err != nil {
		return stats, fmt.Errorf("js asset stats: %w", err)
	}

	stats.CSSFiles = cssFiles
	stats.JSFiles = jsFiles
	stats.TotalSize = cssSize + jsSize
	return stats, nil
}
