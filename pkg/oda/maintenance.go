package oda

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/oda-reader/pkg/bulkcache"
	"github.com/Sternrassler/oda-reader/pkg/framecache"
	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/maintenance"
)

// CacheInfo describes every tier.
type CacheInfo struct {
	Dir         string
	SizeMB      float64
	HTTPEnabled bool
	HTTP        httpcache.Info

	DataFramesEnabled bool
	DataFrames        framecache.Stats

	Bulk bulkcache.Stats
}

// EnableCache switches the HTTP and DataFrame tiers on.
func (r *Reader) EnableCache() {
	r.http.Enable()
	r.frames.Enable()
	r.logger.Info().Msg("Caching enabled")
}

// DisableCache switches the HTTP and DataFrame tiers off. The bulk file cache
// stays active.
func (r *Reader) DisableCache() {
	r.http.Disable()
	r.frames.Disable()
	r.logger.Info().Msg("Caching disabled")
}

// CacheSizeMB returns the size of the cache root.
func (r *Reader) CacheSizeMB() (float64, error) {
	return maintenance.SizeMB(r.dirs.Root())
}

// ClearCache empties every tier and removes any other file under the cache
// root.
func (r *Reader) ClearCache(ctx context.Context) error {
	errs := []error{
		r.http.Clear(ctx),
		r.frames.Clear(ctx),
		r.bulk.Clear(ctx, ""),
	}
	_, err := r.sweeper.ClearOlderThan(ctx, 0)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.logger.Info().Str("dir", r.dirs.Root()).Msg("Cache cleared")
	return nil
}

// ClearOldEntries removes cached files older than maxAge.
func (r *Reader) ClearOldEntries(ctx context.Context, maxAge time.Duration) (int, error) {
	return r.sweeper.ClearOlderThan(ctx, maxAge)
}

// EnforceLimits runs the age and size sweep now.
func (r *Reader) EnforceLimits(ctx context.Context) (maintenance.Report, error) {
	return r.sweeper.Sweep(ctx)
}

// PruneHTTP removes expired HTTP responses.
func (r *Reader) PruneHTTP(ctx context.Context) (int64, error) {
	return r.http.Prune(ctx, 0)
}

// BulkRecords lists the bulk cache manifest.
func (r *Reader) BulkRecords(ctx context.Context) ([]bulkcache.RecordInfo, error) {
	return r.bulk.ListRecords(ctx)
}

// ClearBulk removes one bulk file, or all when key is empty.
func (r *Reader) ClearBulk(ctx context.Context, key string) error {
	return r.bulk.Clear(ctx, key)
}

// CacheInfo collects the state of every tier.
func (r *Reader) CacheInfo(ctx context.Context) (CacheInfo, error) {
	info := CacheInfo{
		Dir:               r.dirs.Root(),
		HTTPEnabled:       r.http.Enabled(),
		DataFramesEnabled: r.frames.Enabled(),
	}
	var err error
	if info.SizeMB, err = r.CacheSizeMB(); err != nil {
		return info, err
	}
	if info.HTTP, err = r.http.Info(ctx); err != nil {
		return info, err
	}
	if info.DataFrames, err = r.frames.Stats(ctx); err != nil {
		return info, err
	}
	if info.Bulk, err = r.bulk.Stats(ctx); err != nil {
		return info, err
	}
	return info, nil
}
