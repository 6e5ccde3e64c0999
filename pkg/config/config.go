// Package config loads the registry's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/illmade-knight/go-customer-registry/pkg/cache"
	"github.com/illmade-knight/go-customer-registry/pkg/customercache"
	"github.com/illmade-knight/go-customer-registry/pkg/microservice"
	"github.com/illmade-knight/go-customer-registry/pkg/repository"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// Database drivers.
const (
	DatabaseMemory    = "memory"
	DatabaseFirestore = "firestore"
)

// Cache drivers.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the root of the registry configuration file.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Events   EventsConfig   `yaml:"events"`
}

// DatabaseConfig selects and configures the customer repository.
type DatabaseConfig struct {
	// Driver is memory, sqlite, pgx (or postgres), mysql or firestore.
	Driver    string                     `yaml:"driver"`
	DSN       string                     `yaml:"dsn"`
	Table     string                     `yaml:"table"`
	Firestore repository.FirestoreConfig `yaml:"firestore"`
}

// SQL returns the SQL repository settings.
func (d DatabaseConfig) SQL() repository.SQLConfig {
	return repository.SQLConfig{Driver: d.Driver, DSN: d.DSN, Table: d.Table}
}

// CacheConfig selects the cache store and the collection policy.
type CacheConfig struct {
	Driver             string `yaml:"driver"`
	cache.Policy       `yaml:",inline"`
	cache.MemoryConfig `yaml:",inline"`
	Redis              cache.RedisConfig `yaml:"redis"`
}

// EventsConfig controls customer change events on Pub/Sub.
type EventsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.withDefaults()
	return cfg
}

// Load reads the YAML file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to read config file %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse config")
	}
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) withDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HTTPPort == "" {
		c.HTTPPort = ":8080"
	}
	if c.ServiceName == "" {
		c.ServiceName = "customer-registry"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DatabaseMemory
	}
	if c.Database.Driver == DatabaseFirestore && c.Database.Firestore.Collection == "" {
		c.Database.Firestore.Collection = "customers"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheMemory
	}
	if c.Cache.AbsoluteExpiration == 0 && c.Cache.SlidingExpiration == 0 && c.Cache.Size == 0 {
		c.Cache.Policy = customercache.DefaultPolicy
	}
	if c.Cache.CleanupInterval == 0 {
		c.Cache.CleanupInterval = 10 * time.Minute
	}
	if c.Cache.Redis.Prefix == "" {
		c.Cache.Redis.Prefix = "registry"
	}
}

// Validate reports the first configuration problem it finds.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DatabaseMemory:
	case DatabaseFirestore:
		if c.Database.Firestore.ProjectID == "" {
			return errors.New(errors.CodeInvalidConfig, "database.firestore.project_id is required")
		}
	case repository.DriverSQLite, repository.DriverPostgres, "postgres", repository.DriverMySQL:
		if c.Database.DSN == "" {
			return errors.Newf(errors.CodeInvalidConfig, "database.dsn is required for driver %s", c.Database.Driver)
		}
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unknown database driver %q", c.Database.Driver)
	}

	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			return errors.New(errors.CodeInvalidConfig, "cache.redis.addr is required")
		}
	default:
		return errors.Newf(errors.CodeInvalidConfig, "unknown cache driver %q", c.Cache.Driver)
	}
	if c.Cache.AbsoluteExpiration < 0 || c.Cache.SlidingExpiration < 0 || c.Cache.Size < 0 || c.Cache.SizeLimit < 0 {
		return errors.New(errors.CodeInvalidConfig, "cache durations and sizes must not be negative")
	}
	if c.Cache.SizeLimit > 0 && c.Cache.Size > c.Cache.SizeLimit {
		return errors.New(errors.CodeInvalidConfig, "cache.entry_size exceeds cache.size_limit")
	}

	if c.Events.Enabled && (c.Events.ProjectID == "" || c.Events.TopicID == "") {
		return errors.New(errors.CodeInvalidConfig, "events.project_id and events.topic_id are required when events are enabled")
	}
	return nil
}
