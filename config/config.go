package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Grid       GridConfig       `yaml:"grid"`
	Cache      CacheConfig      `yaml:"cache"`
	Blob       BlobConfig       `yaml:"blob"`
	Image      ImageConfig      `yaml:"image"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
// Push is disabled when either key is empty.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are configured.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"` // Ignored by YAML parser
	ExternalAPIKey  string        `yaml:"external_api_key"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogLevel               string `yaml:"log_level"`
}

// GridConfig describes the overlay drawn on a machine image. Locations are
// flat indexes in [0, Columns*Rows).
type GridConfig struct {
	Columns int `yaml:"columns"`
	Rows    int `yaml:"rows"`
}

// CacheConfig holds the staleness windows used by the client query cache.
type CacheConfig struct {
	StaleSeconds        int           `yaml:"stale_seconds"`
	CatalogStaleSeconds int           `yaml:"catalog_stale_seconds"`
	RetentionSeconds    int           `yaml:"retention_seconds"`
	PrefetchPerSec      float64       `yaml:"prefetch_per_sec"`
	Stale               time.Duration `yaml:"-"`
	CatalogStale        time.Duration `yaml:"-"`
	Retention           time.Duration `yaml:"-"`
}

// BlobConfig selects and configures the image blob store.
type BlobConfig struct {
	Driver  string       `yaml:"driver"` // fs | s3 | memory
	FSDir   string       `yaml:"fs_dir"`
	BaseURL string       `yaml:"base_url"`
	S3      S3BlobConfig `yaml:"s3"`
}

// S3BlobConfig holds S3 (or MinIO) settings.
type S3BlobConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicURL       string `yaml:"public_url"`
}

// ImageConfig bounds uploaded machine images.
type ImageConfig struct {
	MaxBytes  int64 `yaml:"max_bytes"`
	MaxSidePx int   `yaml:"max_side_px"`
}

// AuthConfig configures bearer token verification and role gating.
type AuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret"`
	PrivilegedRoles []string `yaml:"privileged_roles"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Grid.Columns <= 0 {
		cfg.Grid.Columns = 30
	}
	if cfg.Grid.Rows <= 0 {
		cfg.Grid.Rows = 20
	}

	if cfg.Cache.StaleSeconds <= 0 {
		cfg.Cache.StaleSeconds = 300
	}
	if cfg.Cache.CatalogStaleSeconds <= 0 {
		cfg.Cache.CatalogStaleSeconds = 600
	}
	if cfg.Cache.RetentionSeconds <= 0 {
		cfg.Cache.RetentionSeconds = 1800
	}
	if cfg.Cache.PrefetchPerSec <= 0 {
		cfg.Cache.PrefetchPerSec = 4
	}
	cfg.Cache.Stale = time.Duration(cfg.Cache.StaleSeconds) * time.Second
	cfg.Cache.CatalogStale = time.Duration(cfg.Cache.CatalogStaleSeconds) * time.Second
	cfg.Cache.Retention = time.Duration(cfg.Cache.RetentionSeconds) * time.Second

	if cfg.Blob.Driver == "" {
		cfg.Blob.Driver = "fs"
	}
	if cfg.Blob.FSDir == "" {
		cfg.Blob.FSDir = "./data/images"
	}
	if cfg.Blob.BaseURL == "" {
		cfg.Blob.BaseURL = "/images"
	}

	if cfg.Image.MaxBytes <= 0 {
		cfg.Image.MaxBytes = 5 * 1024 * 1024
	}
	if cfg.Image.MaxSidePx <= 0 {
		cfg.Image.MaxSidePx = 1600
	}

	if len(cfg.Auth.PrivilegedRoles) == 0 {
		cfg.Auth.PrivilegedRoles = []string{"admin", "engenheiro"}
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
