package httpcache

import (
	"context"
	"errors"
)

var (
	// ErrInvalidEntry indicates a stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrStoreClosed is returned by stores used after Close.
	ErrStoreClosed = errors.New("cache store is closed")
)

// Store persists cache entries and redirect aliases.
//
// Get reports found=false (and no error) for unknown keys. Entries past
// their Expires time are still returned; freshness is decided by the
// Manager so that stale entries remain available for stale-if-error.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error

	// PutRedirect records that requests for from are answered by the entry
	// stored under to.
	PutRedirect(ctx context.Context, from, to string) error
	Redirect(ctx context.Context, from string) (string, bool, error)

	Clear(ctx context.Context) error
	Counts(ctx context.Context) (responses, redirects int, err error)
	Close() error
}
