package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration. Values come from defaults, then an
// optional YAML file (CONFIG_PATH), then environment variable overrides.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Cache    CacheConfig    `yaml:"cache"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// CacheConfig bounds the counter aggregation cache. TTL is the freshness
// window; RefreshTimeout caps one full recompute; WaitTimeout caps how long a
// caller blocks on an in-flight refresh before falling back to the stale
// snapshot.
type CacheConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
}

// Load builds the configuration.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        "bcr-service",
			Version:     "dev",
			Environment: "development",
			LogLevel:    "info",
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "bcr",
			Password: "",
			Database: "bcr",
			SSLMode:  "disable",
			MaxConns: 10,
			MinConns: 2,
		},
		NATS: NATSConfig{
			URL:     "nats://localhost:4222",
			Enabled: false,
		},
		Cache: CacheConfig{
			TTL:            2 * time.Minute,
			RefreshTimeout: 10 * time.Second,
			WaitTimeout:    5 * time.Second,
		},
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	envOverride(&cfg.Service.Environment, "ENVIRONMENT")
	envOverride(&cfg.Service.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.Service.Version, "SERVICE_VERSION")
	envOverrideInt(&cfg.Server.Port, "PORT")
	envOverride(&cfg.Database.Host, "DB_HOST")
	envOverrideInt(&cfg.Database.Port, "DB_PORT")
	envOverride(&cfg.Database.User, "DB_USER")
	envOverride(&cfg.Database.Password, "DB_PASSWORD")
	envOverride(&cfg.Database.Database, "DB_NAME")
	envOverride(&cfg.Database.SSLMode, "DB_SSL_MODE")
	envOverride(&cfg.NATS.URL, "NATS_URL")
	envOverrideBool(&cfg.NATS.Enabled, "NATS_ENABLED")
	envOverrideDuration(&cfg.Cache.TTL, "CACHE_TTL")
	envOverrideDuration(&cfg.Cache.RefreshTimeout, "CACHE_REFRESH_TIMEOUT")
	envOverrideDuration(&cfg.Cache.WaitTimeout, "CACHE_WAIT_TIMEOUT")

	if cfg.Cache.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", cfg.Cache.TTL)
	}
	if cfg.Cache.RefreshTimeout <= 0 || cfg.Cache.WaitTimeout <= 0 {
		return nil, fmt.Errorf("cache timeouts must be positive")
	}

	return cfg, nil
}

func envOverride(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func envOverrideBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envOverrideDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
