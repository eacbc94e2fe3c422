package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/adminx/perfgate/internal/common/configtypes"
	"github.com/adminx/perfgate/pkg/types"
)

// Type aliases so callers only import one config package
type (
	GatewayConfig  = configtypes.GatewayConfig
	FeatureOptions = configtypes.FeatureOptions
	LogConfig      = configtypes.LogConfig
	RedisConfig    = configtypes.RedisConfig
	DatabaseConfig = configtypes.DatabaseConfig
)

// Quality bounds accepted for JPEG and WebP output
const (
	MinQuality = configtypes.MinQuality
	MaxQuality = configtypes.MaxQuality
)

// DefaultFeatures returns the toggles with the defaults of the original options
func DefaultFeatures() FeatureOptions {
	return FeatureOptions{
		CacheEnabled:      true,
		OptimizeEnabled:   true,
		DeferCSS:          false,
		DeferJS:           false,
		ImageOptimization: true,
		ImageQuality:      85,
		WebPEnabled:       true,
		WebPQuality:       80,
		AutoDBCleanup:     true,
	}
}

// Default returns a configuration with every default applied.
// Site and origin locations have no sensible default and must be set.
func Default() *GatewayConfig {
	return &GatewayConfig{
		InstanceID: "default",
		Server: configtypes.ServerConfig{
			Listen:  ":8080",
			Timeout: types.Duration(30 * time.Second),
		},
		Origin: configtypes.OriginConfig{
			Timeout:   types.Duration(30 * time.Second),
			UserAgent: "AdminX-Performance/1.0",
		},
		Cache: configtypes.CacheConfig{
			Compression:        types.CompressionNone,
			AllowedQueryParams: []string{"page"},
			BypassPaths:        []string{"/wp-admin", "/wp-login.php"},
			BypassCookies:      []string{"wordpress_logged_in_", "wp-postpass_", "comment_author_"},
		},
		Assets: configtypes.AssetsConfig{
			CriticalScripts: []string{"jquery-js", "jquery-core-js", "jquery-migrate-js"},
		},
		Images: configtypes.ImagesConfig{
			BulkBatchSize: 10,
		},
		Database: configtypes.DatabaseConfig{
			Enabled:         false,
			Addr:            "127.0.0.1:3306",
			Name:            "wordpress",
			TablePrefix:     "wp_",
			KeepRevisions:   3,
			TrashRetention:  types.Duration(30 * 24 * time.Hour),
			OptionsRefresh:  types.Duration(5 * time.Minute),
			MaxOpenConns:    4,
			ConnMaxLifetime: types.Duration(5 * time.Minute),
		},
		Cleanup: configtypes.CleanupConfig{
			Enabled:  true,
			Interval: types.Duration(7 * 24 * time.Hour),
		},
		Redis: configtypes.RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "adminx:",
		},
		Features: DefaultFeatures(),
		Internal: configtypes.InternalConfig{
			Listen: "127.0.0.1:9090",
		},
		Metrics: configtypes.MetricsConfig{
			Enabled:   true,
			Listen:    ":9100",
			Path:      "/metrics",
			Namespace: "adminx",
		},
		Log: configtypes.LogConfig{
			Level: configtypes.LogLevelInfo,
			Console: configtypes.ConsoleLogConfig{
				Enabled: true,
				Format:  configtypes.LogFormatConsole,
			},
			File: configtypes.FileLogConfig{
				Format: configtypes.LogFormatText,
				Rotation: configtypes.RotationConfig{
					MaxSize:    100,
					MaxAge:     30,
					MaxBackups: 10,
				},
			},
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies ADMINX_*
// environment overrides, fills derived values and validates the result.
func Load(path string, logger *zap.Logger) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := unmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	resolvePaths(cfg, filepath.Dir(path))
	deriveUploads(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("Configuration loaded",
			zap.String("config_path", path),
			zap.String("site_url", cfg.Site.URL),
			zap.String("origin_url", cfg.Origin.URL),
			zap.Bool("database_enabled", cfg.Database.Enabled),
			zap.Bool("redis_enabled", cfg.Redis.Enabled))
	}

	return cfg, nil
}

// unmarshalStrict decodes YAML rejecting unknown fields so typos surface at startup
func unmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(v); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}
	return nil
}

// resolvePaths makes relative filesystem paths relative to the config directory
func resolvePaths(cfg *GatewayConfig, baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	cfg.Site.DocumentRoot = resolve(cfg.Site.DocumentRoot)
	cfg.Site.UploadsDir = resolve(cfg.Site.UploadsDir)
	if cfg.Log.File.Enabled {
		cfg.Log.File.Path = resolve(cfg.Log.File.Path)
	}
}

// deriveUploads fills the uploads location the way WordPress lays it out by default
func deriveUploads(cfg *GatewayConfig) {
	cfg.Site.URL = strings.TrimRight(cfg.Site.URL, "/")
	if cfg.Site.UploadsDir == "" && cfg.Site.DocumentRoot != "" {
		cfg.Site.UploadsDir = filepath.Join(cfg.Site.DocumentRoot, "wp-content", "uploads")
	}
	if cfg.Site.UploadsURL == "" && cfg.Site.URL != "" {
		cfg.Site.UploadsURL = cfg.Site.URL + "/wp-content/uploads"
	}
	cfg.Site.UploadsURL = strings.TrimRight(cfg.Site.UploadsURL, "/")
}
