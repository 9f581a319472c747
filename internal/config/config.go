// Package config loads the service configuration from a YAML file with a
// handful of environment overrides for container deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"html2image/internal/domain"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is given.
const DefaultPath = "config.yaml"

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port"`
	Prefork        bool          `yaml:"prefork"`
	BodyLimitBytes int           `yaml:"body_limit_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type LimitsConfig struct {
	MaxHTMLBytes      int     `yaml:"max_html_bytes"`
	MaxCSSBytes       int     `yaml:"max_css_bytes"`
	MaxWidth          int     `yaml:"max_width"`
	MaxHeight         int     `yaml:"max_height"`
	MinScale          float64 `yaml:"min_scale"`
	MaxScale          float64 `yaml:"max_scale"`
	MaxFullPageHeight int     `yaml:"max_full_page_height"`
}

type RenderConfig struct {
	DefaultWidth    int           `yaml:"default_width"`
	DefaultHeight   int           `yaml:"default_height"`
	DefaultScale    float64       `yaml:"default_scale"`
	PoolSize        int           `yaml:"pool_size"`
	ChromePath      string        `yaml:"chrome_path"`
	ChromeNoSandbox bool          `yaml:"chrome_no_sandbox"`
	UserDataDir     string        `yaml:"user_data_dir"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
	RenderTimeout   time.Duration `yaml:"render_timeout"`
	StartupTimeout  time.Duration `yaml:"startup_timeout"`
	SettleDelay     time.Duration `yaml:"settle_delay"`
}

type StorageConfig struct {
	Bucket        string        `yaml:"bucket"`
	Region        string        `yaml:"region"`
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	UsePathStyle  bool          `yaml:"use_path_style"`
	PublicBaseURL string        `yaml:"public_base_url"`
	KeyPrefix     string        `yaml:"key_prefix"`
	PublicRead    *bool         `yaml:"public_read"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
	PingTimeout   time.Duration `yaml:"ping_timeout"`
}

// Enabled reports whether object storage has been configured at all.
func (s StorageConfig) Enabled() bool { return s.Bucket != "" }

// PublicReadEnabled reports whether uploads get the public-read ACL. It is
// on unless public_read is explicitly false.
func (s StorageConfig) PublicReadEnabled() bool { return s.PublicRead == nil || *s.PublicRead }

type CacheConfig struct {
	RedisHost         string        `yaml:"redis_host"`
	RateLimitDB       int           `yaml:"redis_rate_db"`
	ImageCacheDB      int           `yaml:"redis_image_db"`
	ImageCacheEnabled bool          `yaml:"image_cache_enabled"`
	ImageCacheTTL     time.Duration `yaml:"image_cache_ttl"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	Postgres       PostgresConfig `yaml:"postgres"`
	ReloadInterval time.Duration  `yaml:"reload_interval"`
	RequireAPIKey  bool           `yaml:"require_api_key"`
}

// Enabled reports whether API tokens are backed by Postgres.
func (a AuthConfig) Enabled() bool { return a.Postgres.Host != "" }

type RateLimiterConfig struct {
	Interval          time.Duration `yaml:"interval"`
	UserLimit         int           `yaml:"user_limit"`
	EnableUserLimiter bool          `yaml:"enable_user_limiter"`
}

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logger      LoggerConfig      `yaml:"logger"`
	Limits      LimitsConfig      `yaml:"limits"`
	Render      RenderConfig      `yaml:"render"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
}

// DomainLimits projects the request bounds into the domain type.
func (c Config) DomainLimits() domain.Limits {
	return domain.Limits{
		MaxWidth:     c.Limits.MaxWidth,
		MaxHeight:    c.Limits.MaxHeight,
		MinScale:     c.Limits.MinScale,
		MaxScale:     c.Limits.MaxScale,
		MaxHTMLBytes: c.Limits.MaxHTMLBytes,
		MaxCSSBytes:  c.Limits.MaxCSSBytes,
	}
}

// Load reads the file named by CONFIG_PATH (or DefaultPath) and panics on error.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads, defaults and validates the configuration at path.
// It panics when the file cannot be read or holds invalid values.
func LoadFrom(path string) Config {
	cfg, err := Read(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Read is the non-panicking form of LoadFrom.
func Read(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// Common container env var for the Chrome binary.
	if cfg.Render.ChromePath == "" {
		cfg.Render.ChromePath = os.Getenv("CHROME_BIN")
	}
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.Storage.Bucket, "AWS_S3_BUCKET")
	override(&cfg.Storage.Region, "AWS_REGION")
	override(&cfg.Storage.AccessKey, "AWS_ACCESS_KEY_ID")
	override(&cfg.Storage.SecretKey, "AWS_SECRET_ACCESS_KEY")
	override(&cfg.Storage.Endpoint, "AWS_ENDPOINT_URL")
}

// ApplyDefaults fills zero values with the service defaults.
func ApplyDefaults(cfg *Config) {
	setInt := func(dst *int, v int) {
		if *dst == 0 {
			*dst = v
		}
	}
	setFloat := func(dst *float64, v float64) {
		if *dst == 0 {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 {
			*dst = v
		}
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8000"
	}
	setInt(&cfg.Server.BodyLimitBytes, 8*1024*1024)
	setDur(&cfg.Server.RequestTimeout, 60*time.Second)

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}

	setInt(&cfg.Limits.MaxHTMLBytes, 2*1024*1024)
	setInt(&cfg.Limits.MaxCSSBytes, 512*1024)
	setInt(&cfg.Limits.MaxWidth, 4096)
	setInt(&cfg.Limits.MaxHeight, 4096)
	setFloat(&cfg.Limits.MinScale, 0.1)
	setFloat(&cfg.Limits.MaxScale, 3.0)
	setInt(&cfg.Limits.MaxFullPageHeight, 16384)

	setInt(&cfg.Render.DefaultWidth, 1024)
	setInt(&cfg.Render.DefaultHeight, 768)
	setFloat(&cfg.Render.DefaultScale, 1.0)
	setInt(&cfg.Render.PoolSize, 2)
	setDur(&cfg.Render.AcquireTimeout, 5*time.Second)
	setDur(&cfg.Render.LoadTimeout, 10*time.Second)
	setDur(&cfg.Render.RenderTimeout, 30*time.Second)
	setDur(&cfg.Render.StartupTimeout, 15*time.Second)
	setDur(&cfg.Render.SettleDelay, 100*time.Millisecond)

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.PublicRead == nil {
		publicRead := true
		cfg.Storage.PublicRead = &publicRead
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "images"
	}
	setDur(&cfg.Storage.UploadTimeout, 30*time.Second)
	setDur(&cfg.Storage.PingTimeout, 3*time.Second)

	setDur(&cfg.Cache.ImageCacheTTL, time.Minute)

	setDur(&cfg.Auth.ReloadInterval, time.Minute)
	setDur(&cfg.RateLimiter.Interval, time.Minute)
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Render.PoolSize < 1 {
		errs = append(errs, errors.New("render.pool_size must be >= 1"))
	}
	if c.Limits.MaxWidth < 1 || c.Limits.MaxHeight < 1 {
		errs = append(errs, errors.New("limits.max_width and limits.max_height must be >= 1"))
	}
	if c.Limits.MinScale <= 0 || c.Limits.MaxScale < c.Limits.MinScale {
		errs = append(errs, errors.New("limits.min_scale must be > 0 and <= limits.max_scale"))
	}
	if c.Limits.MaxFullPageHeight < c.Limits.MaxHeight {
		errs = append(errs, errors.New("limits.max_full_page_height must be >= limits.max_height"))
	}
	if c.Render.DefaultWidth > c.Limits.MaxWidth || c.Render.DefaultHeight > c.Limits.MaxHeight {
		errs = append(errs, errors.New("render default dimensions exceed limits"))
	}
	if c.Render.DefaultScale < c.Limits.MinScale || c.Render.DefaultScale > c.Limits.MaxScale {
		errs = append(errs, errors.New("render.default_scale is outside limits"))
	}
	if c.Render.LoadTimeout > c.Render.RenderTimeout {
		errs = append(errs, errors.New("render.load_timeout must not exceed render.render_timeout"))
	}
	if c.RateLimiter.UserLimit < 0 {
		errs = append(errs, errors.New("rate_limiter.user_limit must be >= 0"))
	}
	if c.Storage.Enabled() && (c.Storage.AccessKey == "") != (c.Storage.SecretKey == "") {
		errs = append(errs, errors.New("storage.access_key and storage.secret_key must be set together"))
	}
	return errors.Join(errs...)
}
