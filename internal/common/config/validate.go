package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/pkg/types"
)

// Validate checks a loaded configuration and reports every problem at once
func Validate(cfg *GatewayConfig) error {
	var errs []error

	if err := configtypes.ValidateListenAddress(cfg.Server.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}
	if err := configtypes.ValidateListenAddress(cfg.Internal.Listen); err != nil {
		errs = append(errs, fmt.Errorf("internal.listen: %w", err))
	}
	if cfg.Internal.AuthKey == "" {
		errs = append(errs, errors.New("internal.auth_key is required"))
	}

	if err := validateAbsoluteURL(cfg.Site.URL); err != nil {
		errs = append(errs, fmt.Errorf("site.url: %w", err))
	}
	if err := validateAbsoluteURL(cfg.Origin.URL); err != nil {
		errs = append(errs, fmt.Errorf("origin.url: %w", err))
	}
	if cfg.Site.DocumentRoot == "" {
		errs = append(errs, errors.New("site.document_root is required"))
	}
	if cfg.Site.UploadsDir == "" {
		errs = append(errs, errors.New("site.uploads_dir is required"))
	}

	switch cfg.Cache.Compression {
	case "", types.CompressionNone, types.CompressionSnappy, types.CompressionLZ4:
	default:
		errs = append(errs, fmt.Errorf("cache.compression: unsupported algorithm %q", cfg.Cache.Compression))
	}
	if cfg.Cache.MaxAge < 0 {
		errs = append(errs, errors.New("cache.max_age must not be negative"))
	}

	if cfg.Images.BulkBatchSize < 1 {
		errs = append(errs, errors.New("images.bulk_batch_size must be at least 1"))
	}

	if err := ValidateFeatures(cfg.Features); err != nil {
		errs = append(errs, err)
	}

	if cfg.Database.Enabled {
		if cfg.Database.Addr == "" {
			errs = append(errs, errors.New("database.addr is required when database is enabled"))
		}
		if cfg.Database.Name == "" {
			errs = append(errs, errors.New("database.name is required when database is enabled"))
		}
		if cfg.Database.KeepRevisions < 0 {
			errs = append(errs, errors.New("database.keep_revisions must not be negative"))
		}
		if strings.ContainsAny(cfg.Database.TablePrefix, "`'\" ;") {
			errs = append(errs, fmt.Errorf("database.table_prefix contains invalid characters: %q", cfg.Database.TablePrefix))
		}
	}

	if cfg.Cleanup.Enabled && cfg.Cleanup.Interval <= 0 {
		errs = append(errs, errors.New("cleanup.interval must be positive"))
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}

	if cfg.Metrics.Enabled {
		if err := configtypes.ValidateListenAddress(cfg.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		} else if cfg.Metrics.Listen == cfg.Server.Listen {
			errs = append(errs, errors.New("metrics.listen must differ from server.listen"))
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, errors.New("metrics.path must start with /"))
		}
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		errs = append(errs, errors.New("log: at least one output (console or file) must be enabled"))
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Path == "" {
		errs = append(errs, errors.New("log.file.path is required when file logging is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateFeatures checks the quality ranges of the feature toggles
func ValidateFeatures(f FeatureOptions) error {
	var errs []error
	if !configtypes.ValidQuality(f.ImageQuality) {
		errs = append(errs, fmt.Errorf("features.image_quality must be between %d and %d, got %d", MinQuality, MaxQuality, f.ImageQuality))
	}
	if !configtypes.ValidQuality(f.WebPQuality) {
		errs = append(errs, fmt.Errorf("features.webp_quality must be between %d and %d, got %d", MinQuality, MaxQuality, f.WebPQuality))
	}
	return errors.Join(errs...)
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
