package httpcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Response headers added to responses served from the cache.
const (
	HeaderFromCache = "X-From-Cache"
	HeaderStale     = "X-Cache-Stale"
)

// Cacheable reports whether a response with status code may be stored.
func Cacheable(status int) bool {
	return status == http.StatusOK || status == http.StatusNotFound
}

// ResponseToEntry reads resp into an Entry expiring after ttl.
// The response body is restored after reading.
func ResponseToEntry(resp *http.Response, now time.Time, ttl time.Duration) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &Entry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   now,
		Expires:    now.Add(ttl),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = resp.Request.URL.String()
	}

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse builds a response for req from a cached entry.
func EntryToResponse(req *http.Request, entry *Entry, stale bool) *http.Response {
	h := entry.Headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(HeaderFromCache, "1")
	if stale {
		h.Set(HeaderStale, "1")
	}
	h.Set("Content-Length", strconv.Itoa(len(entry.Data)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
		Request:       req,
	}
}

// ShouldMakeConditionalRequest reports whether entry carries a validator.
func ShouldMakeConditionalRequest(entry *Entry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.Format(http.TimeFormat))
	}
}

// FromCache reports whether resp was served by the cache.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderFromCache) == "1"
}

// IsStale reports whether resp is a stale entry served after a live failure.
func IsStale(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(HeaderStale) == "1"
}
