package configtypes

import (
	"github.com/adminx/perfgate/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// GatewayConfig is the main configuration of the performance gateway
type GatewayConfig struct {
	InstanceID string         `yaml:"instance_id" env:"INSTANCE_ID"`
	Server     ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Site       SiteConfig     `yaml:"site" envPrefix:"SITE_"`
	Origin     OriginConfig   `yaml:"origin" envPrefix:"ORIGIN_"`
	Cache      CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Assets     AssetsConfig   `yaml:"assets" envPrefix:"ASSETS_"`
	Images     ImagesConfig   `yaml:"images" envPrefix:"IMAGES_"`
	Database   DatabaseConfig `yaml:"database" envPrefix:"DB_"`
	Cleanup    CleanupConfig  `yaml:"cleanup" envPrefix:"CLEANUP_"`
	Redis      RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Features   FeatureOptions `yaml:"features" envPrefix:"FEATURE_"`
	Internal   InternalConfig `yaml:"internal" envPrefix:"INTERNAL_"`
	Metrics    MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Log        LogConfig      `yaml:"log" envPrefix:"LOG_"`
}

type ServerConfig struct {
	Listen  string         `yaml:"listen" env:"LISTEN"`
	Timeout types.Duration `yaml:"timeout" env:"TIMEOUT"`
	// ClientIPHeaders are trusted only behind a proxy that sets them
	ClientIPHeaders []string `yaml:"client_ip_headers" env:"CLIENT_IP_HEADERS"`
}

// SiteConfig maps the public site onto the local filesystem.
// URL plays the role of home_url(), DocumentRoot of ABSPATH.
type SiteConfig struct {
	URL          string `yaml:"url" env:"URL"`
	DocumentRoot string `yaml:"document_root" env:"DOCUMENT_ROOT"`
	UploadsDir   string `yaml:"uploads_dir" env:"UPLOADS_DIR"`
	UploadsURL   string `yaml:"uploads_url" env:"UPLOADS_URL"`
}

// OriginConfig points at the upstream WordPress server that renders pages
type OriginConfig struct {
	URL       string         `yaml:"url" env:"URL"`
	Timeout   types.Duration `yaml:"timeout" env:"TIMEOUT"`
	UserAgent string         `yaml:"user_agent" env:"USER_AGENT"`
}

type CacheConfig struct {
	// MaxAge of zero disables staleness checks; entries then live until invalidated.
	MaxAge             types.Duration `yaml:"max_age" env:"MAX_AGE"`
	Compression        string         `yaml:"compression" env:"COMPRESSION"`
	AllowedQueryParams []string       `yaml:"allowed_query_params" env:"ALLOWED_QUERY_PARAMS"`
	BypassPaths        []string       `yaml:"bypass_paths" env:"BYPASS_PATHS"`
	BypassCookies      []string       `yaml:"bypass_cookies" env:"BYPASS_COOKIES"`
}

type AssetsConfig struct {
	// CriticalScripts are script element ids never deferred
	CriticalScripts []string `yaml:"critical_scripts" env:"CRITICAL_SCRIPTS"`
}

type ImagesConfig struct {
	BulkBatchSize int `yaml:"bulk_batch_size" env:"BULK_BATCH_SIZE"`
}

type DatabaseConfig struct {
	Enabled         bool           `yaml:"enabled" env:"ENABLED"`
	Addr            string         `yaml:"addr" env:"ADDR"`
	User            string         `yaml:"user" env:"USER"`
	Password        string         `yaml:"password" env:"PASSWORD"`
	Name            string         `yaml:"name" env:"NAME"`
	TablePrefix     string         `yaml:"table_prefix" env:"TABLE_PREFIX"`
	KeepRevisions   int            `yaml:"keep_revisions" env:"KEEP_REVISIONS"`
	TrashRetention  types.Duration `yaml:"trash_retention" env:"TRASH_RETENTION"`
	SyncOptions     bool           `yaml:"sync_options" env:"SYNC_OPTIONS"`
	OptionsRefresh  types.Duration `yaml:"options_refresh" env:"OPTIONS_REFRESH"`
	MaxOpenConns    int            `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime types.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// CleanupConfig schedules the database cleanup worker
type CleanupConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ENABLED"`
	Interval types.Duration `yaml:"interval" env:"INTERVAL"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// Quality bounds accepted for JPEG and WebP output
const (
	MinQuality = 60
	MaxQuality = 100
)

// ValidQuality reports whether q is inside [MinQuality, MaxQuality]
func ValidQuality(q int) bool {
	return q >= MinQuality && q <= MaxQuality
}

// FeatureOptions are the runtime toggles of the four components.
// Names mirror the adminx_performance_* options stored in wp_options.
type FeatureOptions struct {
	CacheEnabled      bool `yaml:"cache_enabled" json:"cache_enabled" env:"CACHE_ENABLED"`
	OptimizeEnabled   bool `yaml:"optimize_enabled" json:"optimize_enabled" env:"OPTIMIZE_ENABLED"`
	DeferCSS          bool `yaml:"defer_css" json:"defer_css" env:"DEFER_CSS"`
	DeferJS           bool `yaml:"defer_js" json:"defer_js" env:"DEFER_JS"`
	ImageOptimization bool `yaml:"image_optimization" json:"image_optimization" env:"IMAGE_OPTIMIZATION"`
	ImageQuality      int  `yaml:"image_quality" json:"image_quality" env:"IMAGE_QUALITY"`
	WebPEnabled       bool `yaml:"webp_enabled" json:"webp_enabled" env:"WEBP_ENABLED"`
	WebPQuality       int  `yaml:"webp_quality" json:"webp_quality" env:"WEBP_QUALITY"`
	AutoDBCleanup     bool `yaml:"auto_db_cleanup" json:"auto_db_cleanup" env:"AUTO_DB_CLEANUP"`
}

// InternalConfig configures the authenticated admin server
type InternalConfig struct {
	Listen  string `yaml:"listen" env:"LISTEN"`
	AuthKey string `yaml:"auth_key" env:"AUTH_KEY"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Listen    string `yaml:"listen" env:"LISTEN"`
	Path      string `yaml:"path" env:"PATH"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

type LogConfig struct {
	Level   string           `yaml:"level" env:"LEVEL"`
	Console ConsoleLogConfig `yaml:"console" envPrefix:"CONSOLE_"`
	File    FileLogConfig    `yaml:"file" envPrefix:"FILE_"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Format  string `yaml:"format" env:"FORMAT"`
	Level   string `yaml:"level,omitempty" env:"LEVEL"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled" env:"ENABLED"`
	Path     string         `yaml:"path" env:"PATH"`
	Format   string         `yaml:"format" env:"FORMAT"`
	Level    string         `yaml:"level,omitempty" env:"LEVEL"`
	Rotation RotationConfig `yaml:"rotation" envPrefix:"ROTATION_"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size" env:"MAX_SIZE"`
	MaxAge     int  `yaml:"max_age" env:"MAX_AGE"`
	MaxBackups int  `yaml:"max_backups" env:"MAX_BACKUPS"`
	Compress   bool `yaml:"compress" env:"COMPRESS"`
}
