// Package config loads the service configuration from YAML, with
// environment-variable overrides for secrets and connection strings.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service   ServiceConfig             `yaml:"service"`
	Refresh   RefreshConfig             `yaml:"refresh"`
	Backfill  BackfillConfig            `yaml:"backfill"`
	Exchanges map[string]ExchangeConfig `yaml:"exchanges"`
	Pricing   PricingConfig             `yaml:"pricing"`
	Storage   StorageConfig             `yaml:"storage"`
	Cache     CacheConfig               `yaml:"cache"`
	Logging   LoggingConfig             `yaml:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics"`
}

type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type RefreshConfig struct {
	// Window is the rolling window current volume covers.
	Window time.Duration `yaml:"window"`
	// Interval is how often the scheduler triggers a refresh.
	Interval time.Duration `yaml:"interval"`
	// CacheTTL must be shorter than Interval so staleness is detectable.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// ExchangeTimeout bounds each exchange's fetch during a refresh.
	ExchangeTimeout time.Duration `yaml:"exchange_timeout"`
}

type BackfillConfig struct {
	Workers  int `yaml:"workers"`
	PageSize int `yaml:"page_size"`
}

type ExchangeConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BaseURL   string          `yaml:"base_url"`
	Markets   []string        `yaml:"markets"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type PricingConfig struct {
	BaseURL  string        `yaml:"base_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type StorageConfig struct {
	// Driver selects the historical store backend: "postgres" or "memory".
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// ClickhouseDSN, when set, enables the analytics mirror that
	// receives finished daily records after each backfill run.
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and validates a YAML config file. ${VAR} references inside
// string values are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Storage.PostgresDSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		cfg.Storage.ClickhouseDSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = strings.TrimSpace(v)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Refresh: RefreshConfig{
			Window:          24 * time.Hour,
			Interval:        5 * time.Minute,
			CacheTTL:        4 * time.Minute,
			ExchangeTimeout: 30 * time.Second,
		},
		Backfill: BackfillConfig{
			Workers:  4,
			PageSize: 500,
		},
		Cache: CacheConfig{Backend: "memory"},
		Storage: StorageConfig{Driver: "postgres"},
	}
}

func validate(cfg *Config) error {
	if cfg.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if cfg.Refresh.Window <= 0 {
		return fmt.Errorf("refresh.window must be greater than 0")
	}
	if cfg.Refresh.CacheTTL >= cfg.Refresh.Interval {
		return fmt.Errorf("refresh.cache_ttl must be shorter than refresh.interval")
	}
	if cfg.Refresh.ExchangeTimeout <= 0 {
		return fmt.Errorf("refresh.exchange_timeout must be greater than 0")
	}
	if cfg.Backfill.Workers <= 0 {
		return fmt.Errorf("backfill.workers must be greater than 0")
	}
	if cfg.Backfill.PageSize <= 0 {
		return fmt.Errorf("backfill.page_size must be greater than 0")
	}
	if len(cfg.EnabledExchanges()) == 0 {
		return fmt.Errorf("at least one exchange must be enabled")
	}
	for name, ex := range cfg.Exchanges {
		if !ex.Enabled {
			continue
		}
		if ex.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("exchanges.%s.rate_limit.requests_per_second must be greater than 0", name)
		}
	}
	switch cfg.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", cfg.Cache.Backend)
	}
	return nil
}

// EnabledExchanges returns the enabled exchange names in lexicographic
// order, matching the snapshot breakdown ordering.
func (c *Config) EnabledExchanges() []string {
	var names []string
	for name, ex := range c.Exchanges {
		if ex.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
