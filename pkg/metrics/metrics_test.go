package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_DedicatedRegistries(t *testing.T) {
	// Two collectors on separate registries must not panic on registration.
	a := New(prometheus.NewRegistry())
	b := New(prometheus.NewRegistry())

	a.Hit(TierHTTP)
	a.Hit(TierHTTP)
	b.Hit(TierHTTP)

	if got := testutil.ToFloat64(a.CacheHits.WithLabelValues(TierHTTP)); got != 2 {
		t.Errorf("collector a hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(b.CacheHits.WithLabelValues(TierHTTP)); got != 1 {
		t.Errorf("collector b hits = %v, want 1", got)
	}
}

func TestNew_NilRegisterer(t *testing.T) {
	if New(nil) == nil {
		t.Fatal("New(nil) returned nil")
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	// Must not panic.
	c.Hit(TierDataFrame)
	c.Miss(TierDataFrame)
	c.CacheError(TierBulk, "set")
}

func TestCacheError(t *testing.T) {
	c := New(nil)
	c.CacheError(TierDataFrame, "set")

	if got := testutil.ToFloat64(c.CacheErrors.WithLabelValues(TierDataFrame, "set")); got != 1 {
		t.Errorf("cache errors = %v, want 1", got)
	}
}
