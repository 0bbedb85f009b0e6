package httpcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

// DefaultTTL is the retention window of a cached response.
const DefaultTTL = 7 * 24 * time.Hour

// Info summarises the cache contents.
type Info struct {
	ResponseCount int `json:"response_count"`
	RedirectCount int `json:"redirect_count"`
}

// Manager handles caching operations on top of a Store and carries the
// runtime on/off switch.
type Manager struct {
	store   Store
	ttl     time.Duration
	enabled atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewManager creates an enabled manager. ttl <= 0 selects DefaultTTL.
func NewManager(store Store, ttl time.Duration, logger zerolog.Logger, m *metrics.Collector) *Manager {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	mgr := &Manager{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
	mgr.enabled.Store(true)
	return mgr
}

// TTL returns the retention window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Enable turns the cache back on. Entries stored before Disable are used again.
func (m *Manager) Enable() { m.enabled.Store(true) }

// Disable stops reads and writes without deleting anything.
func (m *Manager) Disable() { m.enabled.Store(false) }

// Enabled reports whether the cache is in use.
func (m *Manager) Enabled() bool { return m.enabled.Load() }

// Lookup retrieves the entry for key, following a recorded redirect alias
// when there is no direct entry. Expired entries are returned too; callers
// check IsExpired.
func (m *Manager) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	k := key.String()

	entry, found, err := m.store.Get(ctx, k)
	if err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "get")
		if errors.Is(err, ErrInvalidEntry) {
			m.logger.Warn().Err(err).Str("key", k).Msg("Corrupt HTTP cache entry removed")
			_ = m.Delete(ctx, key)
			return nil, false, nil
		}
		return nil, false, err
	}
	if found {
		return entry, true, nil
	}

	to, ok, err := m.store.Redirect(ctx, k)
	if err != nil || !ok {
		return nil, false, err
	}
	entry, found, err = m.store.Get(ctx, to)
	if err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "get")
		return nil, false, err
	}
	return entry, found, nil
}

// Save stores entry under key.
func (m *Manager) Save(ctx context.Context, key Key, entry *Entry) error {
	if err := m.store.Put(ctx, key.String(), entry); err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "set")
		return err
	}
	m.logger.Debug().
		Str("url", entry.URL).
		Int("status_code", entry.StatusCode).
		Int("size", len(entry.Data)).
		Msg("Response cached")
	return nil
}

// Revalidate extends entry's retention after a 304 Not Modified.
func (m *Manager) Revalidate(ctx context.Context, key Key, entry *Entry) error {
	now := m.now()
	entry.CachedAt = now
	entry.Expires = now.Add(m.ttl)
	return m.Save(ctx, key, entry)
}

// RecordRedirect aliases from to the entry stored under to.
func (m *Manager) RecordRedirect(ctx context.Context, from, to Key) error {
	f, t := from.String(), to.String()
	if f == t {
		return nil
	}
	if err := m.store.PutRedirect(ctx, f, t); err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "set")
		return err
	}
	return nil
}

// Delete removes the entry for key.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	if err := m.store.Delete(ctx, key.String()); err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "delete")
		return err
	}
	return nil
}

// Clear removes every entry and redirect.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		m.metrics.CacheError(metrics.TierHTTP, "clear")
		return fmt.Errorf("clear http cache: %w", err)
	}
	m.logger.Info().Msg("HTTP cache cleared")
	return nil
}

// Info returns the number of cached responses and redirects.
func (m *Manager) Info(ctx context.Context) (Info, error) {
	responses, redirects, err := m.store.Counts(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{ResponseCount: responses, RedirectCount: redirects}, nil
}

type expirer interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Prune deletes entries whose retention ended more than grace ago. Stores
// that expire keys on their own report 0.
func (m *Manager) Prune(ctx context.Context, grace time.Duration) (int64, error) {
	e, ok := m.store.(expirer)
	if !ok {
		return 0, nil
	}
	return e.DeleteExpiredBefore(ctx, m.now().Add(-grace))
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
