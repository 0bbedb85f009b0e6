package httpcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

func newTestManager(t *testing.T) (*Manager, *metrics.Collector) {
	t.Helper()
	m := metrics.New(nil)
	return NewManager(newSQLiteStore(t), 0, zerolog.Nop(), m), m
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestTransport_HitAfterMiss(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	mgr, m := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}

	resp, body := get(t, client, srv.URL+"/data")
	require.Equal(t, "payload", body)
	require.False(t, FromCache(resp))

	resp, body = get(t, client, srv.URL+"/data")
	require.Equal(t, "payload", body)
	require.True(t, FromCache(resp))
	require.False(t, IsStale(resp))

	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(metrics.TierHTTP)))
}

func TestTransport_NotFoundCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "Dataflow not found", http.StatusNotFound)
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}

	get(t, client, srv.URL)
	resp, body := get(t, client, srv.URL)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body, "Dataflow")
	require.True(t, FromCache(resp))
	require.EqualValues(t, 1, hits.Load())
}

func TestTransport_ServerErrorNotCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}

	get(t, client, srv.URL)
	get(t, client, srv.URL)
	require.EqualValues(t, 2, hits.Load())
}

func TestTransport_StaleIfError(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("good"))
	}))
	defer srv.Close()

	mgr, m := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}

	get(t, client, srv.URL)

	// Age the entry past its retention window, then break upstream.
	mgr.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	fail.Store(true)

	resp, body := get(t, client, srv.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "good", body)
	require.True(t, IsStale(resp))
	require.Equal(t, 1.0, testutil.ToFloat64(m.StaleServed))
}

func TestTransport_StaleOnTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("good"))
	}))
	url := srv.URL

	mgr, _ := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}
	get(t, client, url)

	srv.Close()
	mgr.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }

	resp, body := get(t, client, url)
	require.Equal(t, "good", body)
	require.True(t, IsStale(resp))
}

func TestTransport_ConditionalRevalidation(t *testing.T) {
	var conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("body"))
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}
	get(t, client, srv.URL)

	later := time.Now().Add(8 * 24 * time.Hour)
	mgr.now = func() time.Time { return later }

	resp, body := get(t, client, srv.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "body", body)
	require.EqualValues(t, 1, conditional.Load())

	entry, found, err := mgr.Lookup(context.Background(), Key{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, entry.IsExpired(later), "304 must extend retention")
}

func TestTransport_DisableKeepsEntries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	mgr, _ := newTestManager(t)
	client := &http.Client{Transport: NewTransport(mgr, nil)}
	get(t, client, srv.URL)

	mgr.Disable()
	resp, _ := get(t, client, srv.URL)
	require.False(t, FromCache(resp))
	require.EqualValues(t, 2, hits.Load())

	info, err := mgr.Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, info.ResponseCount, "disabling must not delete entries")

	mgr.Enable()
	resp, _ = get(t, client, srv.URL)
	require.True(t, FromCache(resp))
	require.EqualValues(t, 2, hits.Load())
}

func TestManager_Redirect(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	final := Key{Method: http.MethodGet, URL: "https://example.org/final"}
	orig := Key{Method: http.MethodGet, URL: "https://example.org/orig"}

	require.NoError(t, mgr.Save(ctx, final, testEntry(time.Now())))
	require.NoError(t, mgr.RecordRedirect(ctx, orig, final))
	require.NoError(t, mgr.RecordRedirect(ctx, final, final), "self alias is ignored")

	entry, found, err := mgr.Lookup(ctx, orig)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "https://example.org/data", entry.URL)

	info, err := mgr.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, Info{ResponseCount: 1, RedirectCount: 1}, info)

	require.NoError(t, mgr.Clear(ctx))
	info, err = mgr.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, Info{}, info)
}

func TestManager_Prune(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Save(ctx, Key{URL: "https://example.org/old"}, testEntry(time.Now().Add(-10*24*time.Hour))))
	n, err := mgr.Prune(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestCacheable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, true},
		{404, true},
		{301, false},
		{500, false},
	}
	for _, tt := range tests {
		if got := Cacheable(tt.status); got != tt.want {
			t.Errorf("Cacheable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
