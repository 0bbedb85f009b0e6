// Package maintenance keeps the cache root within its age and size limits.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/cachedir"
	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

const (
	// DefaultMaxAge is the age after which any cache file is removed.
	DefaultMaxAge = 168 * time.Hour

	// DefaultMaxSizeMB is the size limit of the whole cache root.
	DefaultMaxSizeMB = 2500

	bytesPerMB = 1 << 20
)

// Locker serialises a sweep with other cache writers. *bulkcache.Manager
// satisfies it.
type Locker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// Options configures a Sweeper.
type Options struct {
	MaxAge    time.Duration
	MaxSizeMB float64

	// Locker is held for the duration of a sweep when set.
	Locker Locker
	// Pruner shrinks the protected HTTP cache database before size
	// eviction. *httpcache.Manager's Prune satisfies it; grace is MaxAge.
	Pruner func(ctx context.Context, grace time.Duration) (int64, error)

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Report describes what a sweep removed.
type Report struct {
	AgedOut      int
	SizeEvicted  int
	Pruned       int64
	BytesRemoved int64
	// RemainingMB is the size of the evictable files left under the root.
	RemainingMB float64
	// ProtectedMB is the size of files a sweep never deletes.
	ProtectedMB float64
}

// Sweeper evicts files under a cache root.
type Sweeper struct {
	root    string
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewSweeper creates a sweeper for root. Zero limits take the defaults.
func NewSweeper(root string, opts Options) *Sweeper {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = DefaultMaxSizeMB
	}
	return &Sweeper{
		root:    root,
		opts:    opts,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

type file struct {
	path  string
	size  int64
	mtime time.Time
}

// Sweep removes every file older than MaxAge, prunes the HTTP cache, then
// removes the oldest files until the evictable files fit in MaxSizeMB.
// Protected files do not count toward the limit.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	if s.opts.Locker == nil {
		return s.sweep(ctx)
	}
	var report Report
	err := s.opts.Locker.WithLock(ctx, func() error {
		var err error
		report, err = s.sweep(ctx)
		return err
	})
	return report, err
}

func (s *Sweeper) sweep(ctx context.Context) (Report, error) {
	var report Report

	removed, err := s.removeOlderThan(ctx, s.opts.MaxAge)
	report.AgedOut = len(removed)
	for _, f := range removed {
		report.BytesRemoved += f.size
	}
	if err != nil {
		return report, err
	}

	if s.opts.Pruner != nil {
		n, err := s.opts.Pruner(ctx, s.opts.MaxAge)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to prune HTTP cache")
		}
		report.Pruned = n
	}

	files, total, protected, err := s.scan(ctx)
	if err != nil {
		return report, err
	}
	report.ProtectedMB = float64(protected) / bytesPerMB
	limit := int64(s.opts.MaxSizeMB * bytesPerMB)
	if protected > limit {
		s.logger.Warn().
			Float64("protected_mb", report.ProtectedMB).
			Float64("limit_mb", s.opts.MaxSizeMB).
			Msg("Protected cache files alone exceed the size limit")
	}
	if total <= limit {
		report.RemainingMB = float64(total) / bytesPerMB
		return report, nil
	}

	s.logger.Warn().
		Float64("size_mb", float64(total)/bytesPerMB).
		Float64("limit_mb", s.opts.MaxSizeMB).
		Msg("Cache size exceeds limit, deleting oldest files")

	sort.SliceStable(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })

	var freed int64
	for _, f := range files {
		if total <= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !s.remove(f) {
			continue
		}
		total -= f.size
		freed += f.size
		report.SizeEvicted++
	}
	report.BytesRemoved += freed
	report.RemainingMB = float64(total) / bytesPerMB

	s.logger.Info().
		Float64("removed_mb", float64(freed)/bytesPerMB).
		Int("files", report.SizeEvicted).
		Msg("Removed cache files to enforce size limit")
	return report, nil
}

// ClearOlderThan removes every evictable file older than maxAge.
func (s *Sweeper) ClearOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	var removed []file
	run := func() error {
		var err error
		removed, err = s.removeOlderThan(ctx, maxAge)
		return err
	}
	var err error
	if s.opts.Locker != nil {
		err = s.opts.Locker.WithLock(ctx, run)
	} else {
		err = run()
	}
	return len(removed), err
}

func (s *Sweeper) removeOlderThan(ctx context.Context, maxAge time.Duration) ([]file, error) {
	files, _, _, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := s.now().Add(-maxAge)

	var removed []file
	for _, f := range files {
		if !f.mtime.Before(cutoff) {
			continue
		}
		if s.remove(f) {
			s.logger.Debug().Str("path", f.path).Msg("Deleted old cache file")
			removed = append(removed, f)
		}
	}
	return removed, nil
}

func (s *Sweeper) remove(f file) bool {
	if err := os.Remove(f.path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", f.path).Msg("Failed to delete cache file")
		}
		return false
	}
	if s.metrics != nil {
		s.metrics.EvictedFiles.Inc()
		s.metrics.EvictedBytes.Add(float64(f.size))
	}
	return true
}

// scan lists evictable files with their total size, and the size of the
// protected files.
func (s *Sweeper) scan(ctx context.Context) ([]file, int64, int64, error) {
	var (
		files     []file
		total     int64
		protected int64
	)
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if cachedir.IsProtected(d.Name()) {
			protected += info.Size()
			return nil
		}
		total += info.Size()
		files = append(files, file{path: path, size: info.Size(), mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("scan cache root: %w", err)
	}
	return files, total, protected, nil
}

// SizeMB returns the total size of every file under root.
func SizeMB(root string) (float64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure cache root: %w", err)
	}
	return float64(total) / bytesPerMB, nil
}

// ClearAll removes root with everything in it and recreates it empty.
func ClearAll(root string) error {
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("clear cache root: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("recreate cache root: %w", err)
	}
	return nil
}
