// Package httpcache provides the durable HTTP response cache that sits below
// the resilient fetcher.
//
// Responses are memoized by (method, URL, matching headers) for a fixed
// retention window (7 days by default). 200 and 404 responses are cached;
// 404s matter because dataflow version probing expects some versions to be
// missing. When the live request fails (transport error or 5xx) and any
// entry exists, the cached response is served instead, marked stale.
// Disabling the cache stops reads and writes but keeps existing entries.
package httpcache

import (
	"net/http"
	"time"
)

// Entry represents a cached upstream response.
type Entry struct {
	// Data is the response body as received (possibly gzip-encoded).
	Data []byte `json:"data"`

	// URL is the final URL the response came from.
	URL string `json:"url"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// LastModified for conditional requests (If-Modified-Since)
	LastModified time.Time `json:"last_modified,omitzero"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// CachedAt is when the response was stored or last revalidated.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry stops being served as fresh.
	Expires time.Time `json:"expires"`
}

// IsExpired reports whether the entry is past its retention window at now.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.Expires)
}

// TTL returns the remaining freshness at now, or 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.Expires.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
