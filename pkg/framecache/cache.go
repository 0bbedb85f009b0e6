// Package framecache caches processed frames as parquet files.
//
// It sits above the HTTP cache: the HTTP tier stores raw responses, this
// tier stores the result of parsing and schema translation, keyed by every
// parameter that changes that result. Reads and writes are best-effort; a
// failing cache never fails a download.
package framecache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

const fileExt = ".parquet"

// Stats summarises the disk tier.
type Stats struct {
	TotalEntries int
	TotalSizeMB  float64
}

// Options configures a Cache.
type Options struct {
	// MemorySize enables an in-memory LRU of this many frames in front of
	// the disk tier (0 disables it).
	MemorySize int

	// MemoryTTL bounds how long a frame stays in memory (0 = no expiry).
	MemoryTTL time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Cache is the processed-frame cache.
type Cache struct {
	dir     string
	enabled atomic.Bool
	memory  *expirable.LRU[string, *frame.Frame]
	group   singleflight.Group
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// New creates a cache rooted at dir, creating the directory.
func New(dir string, opts Options) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dataframe cache dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if opts.MemorySize > 0 {
		c.memory = expirable.NewLRU[string, *frame.Frame](opts.MemorySize, nil, opts.MemoryTTL)
	}
	c.enabled.Store(true)
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Enable turns caching on.
func (c *Cache) Enable() { c.enabled.Store(true) }

// Disable turns caching off. Entries stay on disk.
func (c *Cache) Disable() { c.enabled.Store(false) }

// Enabled reports whether the cache serves reads and writes.
func (c *Cache) Enabled() bool { return c.enabled.Load() }

func (c *Cache) path(key string) string {
	return filepath.Join(c.dir, key+fileExt)
}

// Get returns the cached frame for p. Corrupt files are deleted and reported
// as a miss. The returned frame is a copy the caller may modify.
func (c *Cache) Get(ctx context.Context, p Params) (*frame.Frame, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key, err := p.Key()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to build DataFrame cache key")
		return nil, false
	}
	return c.get(key)
}

func (c *Cache) get(key string) (*frame.Frame, bool) {
	if c.memory != nil {
		if f, ok := c.memory.Get(key); ok {
			c.metrics.Hit(metrics.TierMemory)
			c.logger.Debug().Str("key", key).Msg("DataFrame served from memory")
			return f.Clone(), true
		}
		c.metrics.Miss(metrics.TierMemory)
	}

	path := c.path(key)
	if _, err := os.Stat(path); err != nil {
		c.metrics.Miss(metrics.TierDataFrame)
		return nil, false
	}

	f, err := frame.ReadParquetFile(path)
	if err != nil {
		c.metrics.CacheError(metrics.TierDataFrame, "get")
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to load cached DataFrame, removing it")
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			c.logger.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove corrupt cache file")
		}
		c.metrics.Miss(metrics.TierDataFrame)
		return nil, false
	}

	c.metrics.Hit(metrics.TierDataFrame)
	c.logger.Info().Str("key", key).Msg("Loading DataFrame from cache")
	if c.memory != nil {
		c.memory.Add(key, f.Clone())
	}
	return f, true
}

// Set stores f for p. Failures are logged and never returned.
func (c *Cache) Set(ctx context.Context, p Params, f *frame.Frame) {
	if !c.Enabled() || f == nil {
		return
	}
	key, err := p.Key()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to build DataFrame cache key")
		return
	}
	c.set(key, f)
}

func (c *Cache) set(key string, f *frame.Frame) {
	if err := c.writeAtomic(key, f); err != nil {
		c.metrics.CacheError(metrics.TierDataFrame, "set")
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to cache DataFrame")
		return
	}
	if c.memory != nil {
		c.memory.Add(key, f.Clone())
	}
	c.logger.Info().Str("key", key).Int("rows", f.Len()).Msg("Cached DataFrame")
}

// writeAtomic writes to a temp file in the cache dir and renames it into
// place, so readers never observe a partial parquet file.
func (c *Cache) writeAtomic(key string, f *frame.Frame) error {
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := frame.WriteParquet(tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Loader produces a frame on a cache miss.
type Loader func(ctx context.Context) (*frame.Frame, error)

// GetOrLoad returns the cached frame for p or calls load and caches its
// result. Concurrent calls for the same key share one load. When the cache
// is disabled load is always called.
func (c *Cache) GetOrLoad(ctx context.Context, p Params, load Loader) (*frame.Frame, error) {
	if !c.Enabled() {
		return load(ctx)
	}
	key, err := p.Key()
	if errors.Is(err, ErrReservedParam) {
		return nil, err
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to build DataFrame cache key")
		return load(ctx)
	}

	if f, ok := c.get(key); ok {
		return f, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		if f, ok := c.get(key); ok {
			return f, nil
		}
		f, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.set(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	f := v.(*frame.Frame)
	if shared {
		f = f.Clone()
	}
	return f, nil
}

// Clear removes every cached frame.
func (c *Cache) Clear(ctx context.Context) error {
	if c.memory != nil {
		c.memory.Purge()
	}
	files, err := c.files()
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range files {
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	c.logger.Info().Int("files", len(files)).Msg("DataFrame cache cleared")
	return errors.Join(errs...)
}

// Stats returns the entry count and total size of the disk tier.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	files, err := c.files()
	if err != nil {
		return Stats{}, err
	}
	var total int64
	for _, name := range files {
		info, err := os.Stat(filepath.Join(c.dir, name))
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return Stats{
		TotalEntries: len(files),
		TotalSizeMB:  float64(total) / (1024 * 1024),
	}, nil
}

func (c *Cache) files() ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dataframe cache: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

