package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/logging"
	"github.com/Sternrassler/oda-reader/pkg/oda"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ODA_READER"

// Load returns defaults overlaid with path (when non-empty) and the
// environment. Nested keys use a double underscore in variable names
// (ODA_READER_CACHE__HTTP__TTL=1h); single underscores are dropped, so
// ODA_READER_CACHE_DIR is the cache.dir key.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(DefaultConfig()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	canonical := map[string]string{
		"cachedir": "cache.dir",
		"loglevel": "log.level",
	}
	transform := func(s string) string {
		key := strings.TrimPrefix(s, EnvPrefix+"_")
		key = strings.ReplaceAll(key, "__", ".")
		key = strings.ToLower(strings.ReplaceAll(key, "_", ""))
		if mapped, ok := canonical[key]; ok {
			return mapped
		}
		return key
	}
	if err := k.Load(env.Provider(EnvPrefix+"_", ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts cfg into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"cache": map[string]any{
			"dir": cfg.Cache.Dir,
			"http": map[string]any{
				"enabled": cfg.Cache.HTTP.Enabled,
				"ttl":     cfg.Cache.HTTP.TTL.String(),
				"backend": cfg.Cache.HTTP.Backend,
				"redis": map[string]any{
					"addr":     cfg.Cache.HTTP.Redis.Addr,
					"password": cfg.Cache.HTTP.Redis.Password,
					"db":       cfg.Cache.HTTP.Redis.DB,
				},
			},
			"dataframe": map[string]any{
				"enabled": cfg.Cache.DataFrame.Enabled,
			},
			"memory": map[string]any{
				"size": cfg.Cache.Memory.Size,
				"ttl":  cfg.Cache.Memory.TTL.String(),
			},
			"maxsizemb":   cfg.Cache.MaxSizeMB,
			"maxagehours": cfg.Cache.MaxAgeHours,
		},
		"bulk": map[string]any{
			"locktimeout": cfg.Bulk.LockTimeout.String(),
		},
		"ratelimit": map[string]any{
			"maxcalls": cfg.RateLimit.MaxCalls,
			"period":   cfg.RateLimit.Period.String(),
		},
		"http": map[string]any{
			"useragent": cfg.HTTP.UserAgent,
			"timeout":   cfg.HTTP.Timeout.String(),
		},
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"pretty": cfg.Log.Pretty,
		},
	}
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	lc.Pretty = c.Log.Pretty
	return lc
}

// ReaderOptions maps the configuration onto oda.Options. The returned
// closer releases the Redis client when the redis backend is selected and
// must be called after the Reader is closed.
func (c Config) ReaderOptions(logger *zerolog.Logger) (oda.Options, func() error) {
	opts := oda.Options{
		CacheDir:              c.Cache.Dir,
		DisableHTTPCache:      !c.Cache.HTTP.Enabled,
		DisableDataFrameCache: !c.Cache.DataFrame.Enabled,
		HTTPCacheTTL:          c.Cache.HTTP.TTL,
		MemorySize:            c.Cache.Memory.Size,
		MemoryTTL:             c.Cache.Memory.TTL,
		MaxSizeMB:             c.Cache.MaxSizeMB,
		MaxAge:                time.Duration(c.Cache.MaxAgeHours) * time.Hour,
		LockTimeout:           c.Bulk.LockTimeout,
		RateLimitCalls:        c.RateLimit.MaxCalls,
		RateLimitPeriod:       c.RateLimit.Period,
		UserAgent:             c.HTTP.UserAgent,
		Timeout:               c.HTTP.Timeout,
		Logger:                logger,
	}

	closer := func() error { return nil }
	if c.Cache.HTTP.Backend == BackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     c.Cache.HTTP.Redis.Addr,
			Password: c.Cache.HTTP.Redis.Password,
			DB:       c.Cache.HTTP.Redis.DB,
		})
		opts.HTTPStore = httpcache.NewRedisStore(rdb, c.Cache.HTTP.TTL)
		closer = rdb.Close
	}
	return opts, closer
}
