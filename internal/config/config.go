// Package config loads the cms-cache service configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/cms-cache/pkg/cms"
	"github.com/Sternrassler/cms-cache/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultPort             = 8080
	DefaultContentTTL       = 10 * time.Minute
	DefaultFilterTTL        = 60 * time.Minute
	DefaultCleanupInterval  = 5 * time.Minute
	DefaultRefreshInterval  = 5 * time.Minute
	DefaultRefdataInterval  = time.Hour
	DefaultReconcileMinWait = time.Minute
	DefaultShutdownTimeout  = 15 * time.Second
)

// Environment variables that override file values.
const (
	EnvBaseURL      = "CMS_BASE_URL"
	EnvAuth         = "CMS_AUTH"
	EnvCacheEnabled = "CACHE_ENABLED"
	EnvLogLevel     = "LOG_LEVEL"
	EnvRedisURL     = "REDIS_URL"
	EnvPort         = "PORT"
)

// Config is the top-level service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	CMS       CMSConfig       `yaml:"cms"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Refdata   RefdataConfig   `yaml:"refdata"`
	Warmup    WarmupConfig    `yaml:"warmup"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Debug exposes /debug/cache and the invalidation endpoint.
	Debug bool `yaml:"debug"`
}

// LogConfig holds logger settings. Level is hot-reloadable.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// CMSConfig configures the remote CMS client.
type CMSConfig struct {
	BaseURL string `yaml:"base_url"`

	// Auth is sent verbatim as the Authorization header. Prefer CMS_AUTH
	// over storing credentials in the file.
	Auth string `yaml:"auth"`

	UserAgent     string        `yaml:"user_agent"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
	Paths         cms.Paths     `yaml:"paths"`
	Batch         BatchConfig   `yaml:"batch"`
}

// BatchConfig configures full-record fetches by id.
type BatchConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Timeout        time.Duration `yaml:"timeout"`
}

// RedisConfig enables the shared rate-limit state store. Empty URL keeps the
// state in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// CacheConfig holds the cache settings. Enabled is hot-reloadable.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Regions         RegionsConfig `yaml:"regions"`
}

// RegionsConfig holds one entry per cache region.
type RegionsConfig struct {
	Projects RegionConfig `yaml:"projects"`
	Project  RegionConfig `yaml:"project"`
	Filters  RegionConfig `yaml:"filters"`
}

// RegionConfig configures a single cache region.
type RegionConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	Enabled    bool          `yaml:"enabled"`
	Sliding    bool          `yaml:"sliding"`
}

// RefreshConfig configures the background refresh tasks.
type RefreshConfig struct {
	Projects TaskConfig `yaml:"projects"`
}

// TaskConfig configures one scheduled refresh.
type TaskConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	TTL      time.Duration `yaml:"ttl"`
	Timeout  time.Duration `yaml:"timeout"`
}

// RefdataConfig configures the reference data service.
type RefdataConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// WarmupConfig configures startup warm-up of both language collections.
type WarmupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Delay   time.Duration `yaml:"delay"`
}

// ReconcileConfig configures modified-index reconciliation.
type ReconcileConfig struct {
	// IncludeNew also fetches records that exist remotely but are missing
	// from a cached collection. The projects region only holds complete
	// collections, so this is on by default.
	IncludeNew bool `yaml:"include_new"`

	// MinInterval is the minimum time between two on-request reconciliations
	// of the same collection.
	MinInterval time.Duration `yaml:"min_interval"`
}

// Default returns the configuration used for absent fields.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
		CMS: CMSConfig{
			UserAgent:  "cms-cache/1.0",
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			Paths:      cms.DefaultPaths(),
			Batch: BatchConfig{
				ChunkSize:      50,
				MaxConcurrency: 4,
				Timeout:        15 * time.Second,
			},
		},
		Cache: CacheConfig{
			Enabled:         true,
			CleanupInterval: DefaultCleanupInterval,
			Regions: RegionsConfig{
				Projects: RegionConfig{MaxEntries: 50, DefaultTTL: DefaultContentTTL, Enabled: true, Sliding: true},
				Project:  RegionConfig{MaxEntries: 100, DefaultTTL: DefaultContentTTL, Enabled: true, Sliding: true},
				Filters:  RegionConfig{MaxEntries: 50, DefaultTTL: DefaultFilterTTL, Enabled: true, Sliding: true},
			},
		},
		Refresh: RefreshConfig{
			Projects: TaskConfig{
				Enabled:  true,
				Interval: DefaultRefreshInterval,
				TTL:      DefaultContentTTL,
				Timeout:  time.Minute,
			},
		},
		Refdata: RefdataConfig{RefreshInterval: DefaultRefdataInterval},
		Warmup:  WarmupConfig{Enabled: true},
		Reconcile: ReconcileConfig{
			IncludeNew:  true,
			MinInterval: DefaultReconcileMinWait,
		},
	}
}

// Load reads the YAML file at path on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with the environment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		cfg.CMS.BaseURL = v
	}
	if v, ok := lookup(EnvAuth); ok && v != "" {
		cfg.CMS.Auth = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Log.Level = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		cfg.Redis.URL = v
	}
	if v, ok := lookup(EnvCacheEnabled); ok && v != "" {
		// Only an explicit "false" disables the cache.
		cfg.Cache.Enabled = v != "false"
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: invalid port %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	return nil
}

func (c *Config) validate() error {
	var errs []error

	if c.CMS.BaseURL == "" {
		errs = append(errs, fmt.Errorf("config: cms.base_url is required (or set %s)", EnvBaseURL))
	} else if u, err := url.Parse(c.CMS.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("config: cms.base_url %q must be an absolute http(s) URL", c.CMS.BaseURL))
	}
	if c.CMS.MaxRetries < 0 {
		errs = append(errs, errors.New("config: cms.max_retries must not be negative"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: server.port %d out of range", c.Server.Port))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	if c.Refresh.Projects.Enabled && c.Refresh.Projects.Interval <= 0 {
		errs = append(errs, errors.New("config: refresh.projects.interval must be positive"))
	}
	for name, r := range map[string]RegionConfig{
		"projects": c.Cache.Regions.Projects,
		"project":  c.Cache.Regions.Project,
		"filters":  c.Cache.Regions.Filters,
	} {
		if r.MaxEntries < 0 {
			errs = append(errs, fmt.Errorf("config: cache.regions.%s.max_entries must not be negative", name))
		}
		if r.DefaultTTL < 0 {
			errs = append(errs, fmt.Errorf("config: cache.regions.%s.default_ttl must not be negative", name))
		}
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}

// LogLevel returns the validated log level.
func (c *Config) LogLevel() logging.LogLevel {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}
