package httpcache

import (
	"io"
	"net/http"
	"time"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

// Transport is an http.RoundTripper that answers GET requests from the
// Manager and stores cacheable responses from Base.
//
// Flow per request:
//  1. fresh entry: served with X-From-Cache: 1, Base is not called
//  2. expired entry with validators: conditional request, 304 refreshes it
//  3. Base fails (error or 5xx) and any entry exists: entry served with
//     X-Cache-Stale: 1
//  4. otherwise the live response is returned and stored if cacheable
type Transport struct {
	Manager *Manager
	Base    http.RoundTripper
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(m *Manager, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Manager: m, Base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	m := t.Manager
	if m == nil || !m.Enabled() || req.Method != http.MethodGet {
		return t.Base.RoundTrip(req)
	}

	ctx := req.Context()
	key := KeyFor(req)
	log := m.logger.With().Str("url", req.URL.String()).Logger()

	entry, found, err := m.Lookup(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("HTTP cache lookup failed, fetching live")
		found = false
	}

	now := m.now()
	if found && !entry.IsExpired(now) {
		m.metrics.Hit(metrics.TierHTTP)
		log.Debug().Int("status_code", entry.StatusCode).Msg("HTTP cache hit")
		return EntryToResponse(req, entry, false), nil
	}
	m.metrics.Miss(metrics.TierHTTP)

	out := req
	if found && ShouldMakeConditionalRequest(entry) {
		out = req.Clone(ctx)
		AddConditionalHeaders(out, entry)
		log.Debug().Str("etag", entry.ETag).Msg("Conditional request")
	}

	start := time.Now()
	resp, err := t.Base.RoundTrip(out)
	if err != nil {
		if found {
			return t.serveStale(req, entry, err.Error()), nil
		}
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && found:
		drain(resp)
		if err := m.Revalidate(ctx, key, entry); err != nil {
			log.Warn().Err(err).Msg("Failed to refresh HTTP cache entry")
		}
		log.Info().Dur("duration", time.Since(start)).Msg("304 Not Modified, cache entry refreshed")
		return EntryToResponse(req, entry, false), nil

	case resp.StatusCode >= 500 && found:
		drain(resp)
		return t.serveStale(req, entry, resp.Status), nil

	case Cacheable(resp.StatusCode):
		fresh, err := ResponseToEntry(resp, now, m.ttl)
		if err != nil {
			if found {
				return t.serveStale(req, entry, err.Error()), nil
			}
			return nil, err
		}
		if err := m.Save(ctx, key, fresh); err != nil {
			log.Warn().Err(err).Msg("Failed to write HTTP cache entry")
		}
	}

	return resp, nil
}

func (t *Transport) serveStale(req *http.Request, entry *Entry, reason string) *http.Response {
	m := t.Manager
	if m.metrics != nil {
		m.metrics.StaleServed.Inc()
	}
	m.logger.Warn().
		Str("url", req.URL.String()).
		Str("reason", reason).
		Time("cached_at", entry.CachedAt).
		Msg("Live request failed, serving stale cached response")
	return EntryToResponse(req, entry, true)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
