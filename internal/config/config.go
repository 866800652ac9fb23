// Package config loads the server configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: SLO_SERVER_PORT overrides server.port.
const EnvPrefix = "SLO"

// Config holds server configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Store      StoreConfig      `mapstructure:"store"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Gate       GateConfig       `mapstructure:"gate"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
}

// ServerConfig describes the HTTP server
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// StorageConfig selects the service and SLO registry database
type StorageConfig struct {
	Driver          string `mapstructure:"driver"` // sqlite3, pgx
	DSN             string `mapstructure:"dsn"`
	ConnectAttempts uint   `mapstructure:"connect_attempts"`
}

// StoreConfig configures the in-memory metric store
type StoreConfig struct {
	FineRetention    time.Duration `mapstructure:"fine_retention"`
	DefaultRetention time.Duration `mapstructure:"default_retention"`
	MaxRetention     time.Duration `mapstructure:"max_retention"`
	ClockSkew        time.Duration `mapstructure:"clock_skew"`
	CompactInterval  time.Duration `mapstructure:"compact_interval"`
}

// EngineConfig bounds budget evaluation
type EngineConfig struct {
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	EvalConcurrency int           `mapstructure:"eval_concurrency"`
}

// GateConfig configures the recent incident scan of the deploy gate
type GateConfig struct {
	IncidentLookback time.Duration `mapstructure:"incident_lookback"`
	IncidentStep     time.Duration `mapstructure:"incident_step"`
}

// CacheConfig selects the SLO status cache
type CacheConfig struct {
	Backend string        `mapstructure:"backend"` // memory, redis
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig describes the Redis connection of the redis cache backend
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// IngestConfig limits the push ingestion endpoint
type IngestConfig struct {
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second, 0 is unlimited
	Burst     int     `mapstructure:"burst"`
}

// PrometheusConfig configures the Prometheus puller
type PrometheusConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int64         `mapstructure:"max_concurrency"`
	RetryAttempts  uint          `mapstructure:"retry_attempts"`
	PullInterval   time.Duration `mapstructure:"pull_interval"`
	Backfill       time.Duration `mapstructure:"backfill"`
}

// CatalogConfig points at YAML service catalogs synced on startup
type CatalogConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads the configuration. An empty path searches config.yaml in . and ./configs;
// a missing file falls back to environment and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.connect_attempts", d.Storage.ConnectAttempts)

	v.SetDefault("store.fine_retention", d.Store.FineRetention)
	v.SetDefault("store.default_retention", d.Store.DefaultRetention)
	v.SetDefault("store.max_retention", d.Store.MaxRetention)
	v.SetDefault("store.clock_skew", d.Store.ClockSkew)
	v.SetDefault("store.compact_interval", d.Store.CompactInterval)

	v.SetDefault("engine.query_timeout", d.Engine.QueryTimeout)
	v.SetDefault("engine.eval_concurrency", d.Engine.EvalConcurrency)

	v.SetDefault("gate.incident_lookback", d.Gate.IncidentLookback)
	v.SetDefault("gate.incident_step", d.Gate.IncidentStep)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("ingest.rate_limit", d.Ingest.RateLimit)
	v.SetDefault("ingest.burst", d.Ingest.Burst)

	v.SetDefault("prometheus.enabled", d.Prometheus.Enabled)
	v.SetDefault("prometheus.url", d.Prometheus.URL)
	v.SetDefault("prometheus.timeout", d.Prometheus.Timeout)
	v.SetDefault("prometheus.max_concurrency", d.Prometheus.MaxConcurrency)
	v.SetDefault("prometheus.retry_attempts", d.Prometheus.RetryAttempts)
	v.SetDefault("prometheus.pull_interval", d.Prometheus.PullInterval)
	v.SetDefault("prometheus.backfill", d.Prometheus.Backfill)

	v.SetDefault("catalog.dir", d.Catalog.Dir)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if c.Storage.Driver != "sqlite3" && c.Storage.Driver != "pgx" {
		return fmt.Errorf("storage driver must be 'sqlite3' or 'pgx'")
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("storage DSN is required")
	}

	if c.Store.FineRetention < time.Minute {
		return fmt.Errorf("store fine retention must be at least 1m")
	}
	if c.Store.MaxRetention < c.Store.DefaultRetention {
		return fmt.Errorf("store max retention is below default retention")
	}
	if c.Store.CompactInterval <= 0 {
		return fmt.Errorf("store compact interval must be positive")
	}

	if c.Engine.QueryTimeout <= 0 {
		return fmt.Errorf("engine query timeout must be positive")
	}
	if c.Engine.EvalConcurrency <= 0 {
		return fmt.Errorf("engine eval concurrency must be positive")
	}

	if c.Gate.IncidentLookback < 0 || c.Gate.IncidentStep <= 0 {
		return fmt.Errorf("gate incident lookback must not be negative and step must be positive")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address required when cache backend is 'redis'")
		}
	default:
		return fmt.Errorf("cache backend must be 'memory' or 'redis'")
	}

	if c.Ingest.RateLimit < 0 {
		return fmt.Errorf("ingest rate limit must not be negative")
	}

	if c.Prometheus.Enabled {
		if c.Prometheus.URL == "" {
			return fmt.Errorf("Prometheus URL required when the puller is enabled")
		}
		if c.Prometheus.PullInterval <= 0 {
			return fmt.Errorf("Prometheus pull interval must be positive")
		}
	}

	return nil
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{
			Driver:          "sqlite3",
			DSN:             "errorbudget.db",
			ConnectAttempts: 5,
		},
		Store: StoreConfig{
			FineRetention:    48 * time.Hour,
			DefaultRetention: 30 * 24 * time.Hour,
			MaxRetention:     400 * 24 * time.Hour,
			ClockSkew:        5 * time.Minute,
			CompactInterval:  10 * time.Minute,
		},
		Engine: EngineConfig{
			QueryTimeout:    5 * time.Second,
			EvalConcurrency: 8,
		},
		Gate: GateConfig{
			IncidentLookback: 24 * time.Hour,
			IncidentStep:     15 * time.Minute,
		},
		Cache: CacheConfig{Backend: "memory", TTL: 30 * time.Second},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Ingest: IngestConfig{
			RateLimit: 0,
			Burst:     100,
		},
		Prometheus: PrometheusConfig{
			Timeout:        10 * time.Second,
			MaxConcurrency: 10,
			RetryAttempts:  3,
			PullInterval:   time.Minute,
			Backfill:       10 * time.Minute,
		},
	}
}
