// Package config provides configuration loading and validation for Lattice.
// Configuration is typed and validated at load time so invalid settings are
// caught at startup, not at first use.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/joshsymonds/lattice/internal/analytics"
	"github.com/joshsymonds/lattice/internal/cache"
	"github.com/joshsymonds/lattice/internal/database"
	"github.com/joshsymonds/lattice/internal/scoring"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "1h").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete Lattice configuration.
type Config struct {
	Scoring     scoring.Policy               `yaml:"scoring"`
	Inheritance analytics.InheritancePolicy  `yaml:"inheritance"`
	Database    DatabaseConfig               `yaml:"database"`
	Cache       CacheConfig                  `yaml:"cache"`
}

// DatabaseConfig configures the store and its connection pool.
type DatabaseConfig struct {
	Path           string   `yaml:"path"`
	PoolSize       int      `yaml:"pool_size"`
	AcquireTimeout Duration `yaml:"acquire_timeout"`
	BusyTimeout    Duration `yaml:"busy_timeout"`
}

// CacheConfig configures the cache layer and its TTL classes by data
// volatility: long for reference/catalog data, medium for computed
// aggregates, short for anything churning faster.
type CacheConfig struct {
	Enabled   bool     `yaml:"enabled"`
	LongTTL   Duration `yaml:"long_ttl"`
	MediumTTL Duration `yaml:"medium_ttl"`
	ShortTTL  Duration `yaml:"short_ttl"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:           "lattice.db",
			PoolSize:       database.DefaultPoolSize(),
			AcquireTimeout: Duration(5 * time.Second),
			BusyTimeout:    Duration(5 * time.Second),
		},
		Cache: CacheConfig{
			Enabled:   true,
			LongTTL:   Duration(24 * time.Hour),
			MediumTTL: Duration(time.Hour),
			ShortTTL:  Duration(5 * time.Minute),
		},
		Scoring:     scoring.DefaultPolicy(),
		Inheritance: analytics.DefaultInheritancePolicy(),
	}
}

// Load reads and parses a YAML configuration file, applying defaults for
// anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path is from trusted source (config file)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate ensures the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	if c.Database.AcquireTimeout.Std() <= 0 {
		return fmt.Errorf("database.acquire_timeout must be positive")
	}

	if c.Cache.Enabled {
		if c.Cache.LongTTL.Std() <= 0 || c.Cache.MediumTTL.Std() <= 0 || c.Cache.ShortTTL.Std() <= 0 {
			return fmt.Errorf("cache TTLs must be positive when the cache is enabled")
		}
		if c.Cache.LongTTL < c.Cache.MediumTTL || c.Cache.MediumTTL < c.Cache.ShortTTL {
			return fmt.Errorf("cache TTL classes must satisfy long >= medium >= short")
		}
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	if err := c.Inheritance.Validate(); err != nil {
		return fmt.Errorf("inheritance: %w", err)
	}

	return nil
}

// OpenDatabase opens the configured store.
func (c *Config) OpenDatabase() (*database.DB, error) {
	return database.New(c.Database.Path,
		database.WithPoolSize(c.Database.PoolSize),
		database.WithAcquireTimeout(c.Database.AcquireTimeout.Std()),
		database.WithBusyTimeout(c.Database.BusyTimeout.Std()),
	)
}

// BuildCache returns the configured cache, or the inert Null cache when
// caching is disabled. Callers never branch on cache presence.
func (c *Config) BuildCache() cache.Cache {
	if !c.Cache.Enabled {
		return cache.NewNull()
	}
	return cache.NewMemory()
}
