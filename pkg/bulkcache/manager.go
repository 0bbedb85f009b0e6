// Package bulkcache manages large bulk downloads on disk.
//
// Each dataset is described by an Entry. Ensure returns the path of a fresh
// copy, fetching it when the manifest has no record, the file is missing,
// the declared version changed or the TTL ran out. All manifest and file
// mutations happen under an in-process mutex plus a cross-process file lock
// on {dir}/.cache.lock, and fetched files are renamed into place only after
// the fetch succeeded.
package bulkcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

const (
	// DefaultTTLDays is the bulk file time-to-live.
	DefaultTTLDays = 30

	// DefaultLockTimeout bounds the wait for the cache lock.
	DefaultLockTimeout = 20 * time.Minute

	// LockFile and ManifestFile live in the cache directory.
	LockFile     = ".cache.lock"
	ManifestFile = "manifest.json"

	lockRetryDelay = 100 * time.Millisecond
	day            = 24 * time.Hour
	tracerName     = "github.com/Sternrassler/oda-reader/pkg/bulkcache"
)

// ErrLockTimeout is returned when the cache lock could not be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for bulk cache lock")

// FetchFunc downloads a dataset into dst.
type FetchFunc func(ctx context.Context, dst string) error

// Entry describes a cacheable bulk dataset.
type Entry struct {
	Key      string
	Filename string
	Fetch    FetchFunc

	// TTLDays defaults to DefaultTTLDays when zero.
	TTLDays int

	// Version, when set, invalidates records stored under another version.
	Version string
}

func (e Entry) ttlDays() int {
	if e.TTLDays <= 0 {
		return DefaultTTLDays
	}
	return e.TTLDays
}

// RecordInfo is the observable state of one manifest record.
type RecordInfo struct {
	Key          string
	Filename     string
	DownloadedAt string
	AgeDays      float64
	TTLDays      int
	Version      string
	SizeMB       float64

	// IsStale compares the whole-day age with the TTL, so a record becomes
	// stale one day later here than in Ensure.
	IsStale bool
}

// Stats summarises the cache.
type Stats struct {
	TotalEntries int
	TotalSizeMB  float64
	StaleEntries int
}

// Options configures a Manager.
type Options struct {
	// LockTimeout defaults to DefaultLockTimeout.
	LockTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *metrics.Collector
}

// Manager owns one bulk cache directory.
type Manager struct {
	dir          string
	manifestPath string
	lockPath     string
	lockTimeout  time.Duration

	// sem serialises callers in this process; the flock serialises processes.
	sem chan struct{}

	logger  zerolog.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates a manager for dir, creating the directory.
func New(dir string, opts Options) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bulk cache dir: %w", err)
	}
	timeout := opts.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Manager{
		dir:          dir,
		manifestPath: filepath.Join(dir, ManifestFile),
		lockPath:     filepath.Join(dir, LockFile),
		lockTimeout:  timeout,
		sem:          make(chan struct{}, 1),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}, nil
}

// Dir returns the cache directory.
func (m *Manager) Dir() string { return m.dir }

// Path returns where the file for filename is stored.
func (m *Manager) Path(filename string) string {
	return filepath.Join(m.dir, filename)
}

// WithLock runs fn while holding both the in-process and the cross-process
// lock. It returns ErrLockTimeout when the locks are not acquired in time.
func (m *Manager) WithLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return m.lockErr(ctx)
	}
	defer func() { <-m.sem }()

	fl := flock.New(m.lockPath)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return m.lockErr(ctx)
		}
		return fmt.Errorf("acquire bulk cache lock: %w", err)
	}
	if !locked {
		return m.lockErr(ctx)
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to release bulk cache lock")
		}
	}()

	return fn()
}

func (m *Manager) lockErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		m.logger.Error().Dur("timeout", m.lockTimeout).Str("lock", m.lockPath).Msg("Timed out waiting for bulk cache lock")
		return fmt.Errorf("%w after %s", ErrLockTimeout, m.lockTimeout)
	}
	return ctx.Err()
}

// Ensure returns the path of a fresh copy of entry, fetching it when needed.
// refresh forces a fetch.
func (m *Manager) Ensure(ctx context.Context, entry Entry, refresh bool) (string, error) {
	ctx, span := m.tracer.Start(ctx, "bulkcache.Ensure", trace.WithAttributes(
		attribute.String("key", entry.Key),
		attribute.Bool("refresh", refresh),
	))
	defer span.End()

	if entry.Key == "" || entry.Filename == "" || entry.Fetch == nil {
		return "", fmt.Errorf("bulk cache entry %q: key, filename and fetch are required", entry.Key)
	}

	path := m.Path(entry.Filename)
	err := m.WithLock(ctx, func() error {
		man := m.loadManifest()
		record, found := man[entry.Key]

		if !refresh && found && fileExists(path) && !m.isStale(record, entry) {
			m.metrics.Hit(metrics.TierBulk)
			m.countFetch(entry.Key, "hit")
			m.logger.Info().Str("key", entry.Key).Msg("Loading bulk file from cache")
			return nil
		}
		m.metrics.Miss(metrics.TierBulk)

		m.logger.Info().Str("key", entry.Key).Bool("refresh", refresh).Msg("Fetching bulk file")
		if err := m.fetchAtomic(ctx, entry, path); err != nil {
			m.countFetch(entry.Key, "error")
			return fmt.Errorf("fetch %s: %w", entry.Key, err)
		}
		m.countFetch(entry.Key, "fetched")

		rec := Record{
			Filename:     entry.Filename,
			DownloadedAt: m.now().UTC().Format(TimeFormat),
			TTLDays:      entry.ttlDays(),
		}
		if entry.Version != "" {
			v := entry.Version
			rec.Version = &v
		}
		man[entry.Key] = rec
		return m.saveManifest(man)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return path, nil
}

// fetchAtomic fetches into {path}.tmp-{pid} and renames it over path. The
// temp file is removed on every exit path.
func (m *Manager) fetchAtomic(ctx context.Context, entry Entry, path string) error {
	tmp := path + ".tmp-" + strconv.Itoa(os.Getpid())
	defer os.Remove(tmp)

	if err := entry.Fetch(ctx, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("move into place: %w", err)
	}
	return nil
}

// isStale reports a version change or an age above the TTL.
func (m *Manager) isStale(record Record, entry Entry) bool {
	if entry.Version != "" && (record.Version == nil || *record.Version != entry.Version) {
		return true
	}
	downloaded, ok := record.downloadedAt()
	if !ok {
		return true
	}
	return m.now().Sub(downloaded) > time.Duration(entry.ttlDays())*day
}

// Clear removes the record and file for key, or everything when key is empty.
// Missing files are ignored.
func (m *Manager) Clear(ctx context.Context, key string) error {
	return m.WithLock(ctx, func() error {
		man := m.loadManifest()

		if key == "" {
			for _, rec := range man {
				m.removeFile(rec.Filename)
			}
			man = manifest{}
			m.logger.Info().Msg("Cleared all bulk cache entries")
		} else if rec, ok := man[key]; ok {
			m.removeFile(rec.Filename)
			delete(man, key)
			m.logger.Info().Str("key", key).Msg("Cleared bulk cache entry")
		} else {
			m.logger.Warn().Str("key", key).Msg("Bulk cache key not found")
		}

		return m.saveManifest(man)
	})
}

func (m *Manager) removeFile(filename string) {
	if err := os.Remove(m.Path(filename)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn().Err(err).Str("file", filename).Msg("Failed to remove bulk file")
	}
}

// ListRecords returns every manifest record sorted by key.
func (m *Manager) ListRecords(ctx context.Context) ([]RecordInfo, error) {
	var out []RecordInfo
	err := m.WithLock(ctx, func() error {
		man := m.loadManifest()
		now := m.now()

		for key, rec := range man {
			info := RecordInfo{
				Key:          key,
				Filename:     rec.Filename,
				DownloadedAt: rec.DownloadedAt,
				TTLDays:      rec.TTLDays,
			}
			if rec.Version != nil {
				info.Version = *rec.Version
			}
			if st, err := os.Stat(m.Path(rec.Filename)); err == nil {
				info.SizeMB = float64(st.Size()) / (1024 * 1024)
			}
			if downloaded, ok := rec.downloadedAt(); ok {
				age := now.Sub(downloaded)
				info.AgeDays = age.Truncate(time.Second).Hours() / 24
				info.IsStale = int(age/day) > rec.TTLDays
			} else {
				info.IsStale = true
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Stats aggregates ListRecords.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	records, err := m.ListRecords(ctx)
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	s.TotalEntries = len(records)
	for _, r := range records {
		s.TotalSizeMB += r.SizeMB
		if r.IsStale {
			s.StaleEntries++
		}
	}
	return s, nil
}

func (m *Manager) countFetch(key, outcome string) {
	if m.metrics != nil {
		m.metrics.BulkFetches.WithLabelValues(key, outcome).Inc()
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
