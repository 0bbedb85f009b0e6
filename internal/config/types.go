// Package config loads the oda-reader runtime configuration from defaults, an
// optional YAML file and ODA_READER_ environment variables, in that order of
// increasing precedence.
package config

import (
	"fmt"
	"time"

	"github.com/Sternrassler/oda-reader/pkg/bulkcache"
	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/maintenance"
	"github.com/Sternrassler/oda-reader/pkg/ratelimit"
)

// HTTP cache backends.
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the effective configuration.
type Config struct {
	Cache     CacheConfig     `koanf:"cache"`
	Bulk      BulkConfig      `koanf:"bulk"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
}

// CacheConfig covers every cache tier.
type CacheConfig struct {
	// Dir overrides the cache root; empty defers to ODA_READER_CACHE_DIR
	// and then the user cache directory.
	Dir         string          `koanf:"dir"`
	HTTP        HTTPCacheConfig `koanf:"http"`
	DataFrame   DataFrameConfig `koanf:"dataframe"`
	Memory      MemoryConfig    `koanf:"memory"`
	MaxSizeMB   float64         `koanf:"maxsizemb"`
	MaxAgeHours int             `koanf:"maxagehours"`
}

// HTTPCacheConfig configures the response cache.
type HTTPCacheConfig struct {
	Enabled bool          `koanf:"enabled"`
	TTL     time.Duration `koanf:"ttl"`
	Backend string        `koanf:"backend"`
	Redis   RedisConfig   `koanf:"redis"`
}

// RedisConfig is used when Backend is "redis".
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DataFrameConfig configures the processed-frame cache.
type DataFrameConfig struct {
	Enabled bool `koanf:"enabled"`
}

// MemoryConfig configures the in-memory frame tier.
type MemoryConfig struct {
	Size int           `koanf:"size"`
	TTL  time.Duration `koanf:"ttl"`
}

// BulkConfig configures the bulk file cache.
type BulkConfig struct {
	LockTimeout time.Duration `koanf:"locktimeout"`
}

// RateLimitConfig configures the sliding-window limiter.
type RateLimitConfig struct {
	MaxCalls int           `koanf:"maxcalls"`
	Period   time.Duration `koanf:"period"`
}

// HTTPConfig configures outgoing requests.
type HTTPConfig struct {
	UserAgent string        `koanf:"useragent"`
	Timeout   time.Duration `koanf:"timeout"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Cache: CacheConfig{
			HTTP: HTTPCacheConfig{
				Enabled: true,
				TTL:     httpcache.DefaultTTL,
				Backend: BackendSQLite,
				Redis:   RedisConfig{Addr: "localhost:6379"},
			},
			DataFrame:   DataFrameConfig{Enabled: true},
			Memory:      MemoryConfig{Size: 32, TTL: time.Hour},
			MaxSizeMB:   maintenance.DefaultMaxSizeMB,
			MaxAgeHours: int(maintenance.DefaultMaxAge / time.Hour),
		},
		Bulk: BulkConfig{LockTimeout: bulkcache.DefaultLockTimeout},
		RateLimit: RateLimitConfig{
			MaxCalls: ratelimit.DefaultMaxCalls,
			Period:   ratelimit.DefaultPeriod,
		},
		HTTP: HTTPConfig{
			UserAgent: "oda-reader-go",
			Timeout:   5 * time.Minute,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Validate checks the values a Reader cannot start with.
func (c Config) Validate() error {
	switch c.Cache.HTTP.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Cache.HTTP.Redis.Addr == "" {
			return fmt.Errorf("config: cache.http.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: cache.http.backend must be %q or %q (got %q)", BackendSQLite, BackendRedis, c.Cache.HTTP.Backend)
	}
	if c.RateLimit.MaxCalls <= 0 {
		return fmt.Errorf("config: ratelimit.maxcalls must be > 0 (got %d)", c.RateLimit.MaxCalls)
	}
	if c.RateLimit.Period <= 0 {
		return fmt.Errorf("config: ratelimit.period must be > 0 (got %s)", c.RateLimit.Period)
	}
	if c.Cache.MaxSizeMB < 0 || c.Cache.MaxAgeHours < 0 {
		return fmt.Errorf("config: cache limits must not be negative")
	}
	if c.Cache.Memory.Size < 0 {
		return fmt.Errorf("config: cache.memory.size must not be negative")
	}
	return nil
}
