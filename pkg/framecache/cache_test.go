package framecache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

func dac1Params() Params {
	return Params{
		DataflowID:      "DF_DAC1",
		DataflowVersion: "1.6",
		URL:             "https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/DAC..",
		PreProcess:      true,
		DotstatCodes:    true,
	}
}

func sampleFrame() *frame.Frame {
	return &frame.Frame{
		Columns: []string{"donor_code", "year", "value"},
		Rows: [][]string{
			{"1", "2022", "10.5"},
			{"4", "2023", ""},
		},
	}
}

func newCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	opts.Logger = zerolog.Nop()
	c, err := New(t.TempDir(), opts)
	require.NoError(t, err)
	return c
}

func TestParamsKey(t *testing.T) {
	base := dac1Params()
	k1, err := base.Key()
	require.NoError(t, err)
	require.Len(t, k1, 16)

	k2, err := dac1Params().Key()
	require.NoError(t, err)
	require.Equal(t, k1, k2, "identical params must give identical keys")

	variants := map[string]func(p *Params){
		"pre_process":   func(p *Params) { p.PreProcess = false },
		"dotstat_codes": func(p *Params) { p.DotstatCodes = false },
		"version":       func(p *Params) { p.DataflowVersion = "1.5" },
		"url":           func(p *Params) { p.URL += "?startPeriod=2020" },
		"dataflow":      func(p *Params) { p.DataflowID = "DF_DAC2A" },
		"extra":         func(p *Params) { p.Extra = map[string]any{"start_year": 2020} },
	}
	for name, mutate := range variants {
		t.Run(name, func(t *testing.T) {
			p := dac1Params()
			mutate(&p)
			k, err := p.Key()
			require.NoError(t, err)
			require.NotEqual(t, k1, k)
		})
	}
}

func TestParamsKey_DefaultVersionSentinel(t *testing.T) {
	p := dac1Params()
	p.DataflowVersion = ""
	implicit, err := p.Key()
	require.NoError(t, err)

	p.DataflowVersion = DefaultVersion
	explicit, err := p.Key()
	require.NoError(t, err)

	require.Equal(t, implicit, explicit)
}

func TestParamsKey_ExtraOrderIndependent(t *testing.T) {
	a := dac1Params()
	a.Extra = map[string]any{"b": 2, "a": 1}
	b := dac1Params()
	b.Extra = map[string]any{"a": 1, "b": 2}

	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	require.Equal(t, ka, kb)
}

func TestParamsKey_ReservedExtraRejected(t *testing.T) {
	for _, name := range []string{"url", "pre_process", "dataflow_id", "dataflow_version", "dotstat_codes"} {
		t.Run(name, func(t *testing.T) {
			p := dac1Params()
			p.Extra = map[string]any{name: "other"}
			_, err := p.Key()
			require.ErrorIs(t, err, ErrReservedParam)
		})
	}
}

func TestParamsKey_Unencodable(t *testing.T) {
	p := dac1Params()
	p.Extra = map[string]any{"fn": func() {}}
	_, err := p.Key()
	require.Error(t, err)
}

func TestCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})

	_, ok := c.Get(ctx, dac1Params())
	require.False(t, ok)

	c.Set(ctx, dac1Params(), sampleFrame())

	got, ok := c.Get(ctx, dac1Params())
	require.True(t, ok)
	require.True(t, sampleFrame().Equal(got))

	other := dac1Params()
	other.PreProcess = false
	_, ok = c.Get(ctx, other)
	require.False(t, ok, "differently processed frame must not be served")
}

func TestCache_CorruptFileIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})

	key, err := dac1Params().Key()
	require.NoError(t, err)
	path := filepath.Join(c.Dir(), key+".parquet")
	require.NoError(t, os.WriteFile(path, []byte("not parquet"), 0o644))

	_, ok := c.Get(ctx, dac1Params())
	require.False(t, ok)
	require.NoFileExists(t, path, "corrupt entry must be deleted")
}

func TestCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})

	c.Set(ctx, dac1Params(), sampleFrame())
	c.Disable()
	require.False(t, c.Enabled())

	_, ok := c.Get(ctx, dac1Params())
	require.False(t, ok)

	c.Set(ctx, Params{DataflowID: "other"}, sampleFrame())
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalEntries, "disabled cache must not write")

	c.Enable()
	_, ok = c.Get(ctx, dac1Params())
	require.True(t, ok, "entries survive a disable/enable cycle")
}

func TestCache_SetFailureSwallowed(t *testing.T) {
	m := metrics.New(nil)
	c := newCache(t, Options{Metrics: m})
	require.NoError(t, os.RemoveAll(c.Dir()))

	// The directory is gone, so the write fails; Set must not panic or block.
	c.Set(context.Background(), dac1Params(), sampleFrame())

	require.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues(metrics.TierDataFrame, "set")))
}

func TestCache_ClearAndStats(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{MemorySize: 4})

	for _, id := range []string{"a", "b", "c"} {
		c.Set(ctx, Params{DataflowID: id}, sampleFrame())
	}
	require.NoError(t, os.WriteFile(filepath.Join(c.Dir(), "notes.txt"), []byte("x"), 0o644))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalEntries)
	require.Greater(t, stats.TotalSizeMB, 0.0)

	require.NoError(t, c.Clear(ctx))

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.TotalEntries)
	require.FileExists(t, filepath.Join(c.Dir(), "notes.txt"))

	_, ok := c.Get(ctx, Params{DataflowID: "a"})
	require.False(t, ok, "memory tier must be purged too")
}

func TestCache_MemoryTier(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(nil)
	c := newCache(t, Options{MemorySize: 2, MemoryTTL: time.Minute, Metrics: m})

	c.Set(ctx, dac1Params(), sampleFrame())

	got, ok := c.Get(ctx, dac1Params())
	require.True(t, ok)
	got.Rows[0][0] = "mutated"

	again, ok := c.Get(ctx, dac1Params())
	require.True(t, ok)
	require.Equal(t, "1", again.Rows[0][0], "callers must receive copies")

	require.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(metrics.TierMemory)))
	require.Equal(t, 0.0, testutil.ToFloat64(m.CacheHits.WithLabelValues(metrics.TierDataFrame)))
}

func TestGetOrLoad_SingleLoad(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(ctx context.Context) (*frame.Frame, error) {
		loads.Add(1)
		<-release
		return sampleFrame(), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*frame.Frame, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := c.GetOrLoad(ctx, dac1Params(), load)
			if err == nil {
				results[i] = f
			}
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), loads.Load())
	for i, f := range results {
		require.NotNil(t, f, "caller %d", i)
		require.True(t, sampleFrame().Equal(f))
	}

	_, err := c.GetOrLoad(ctx, dac1Params(), load)
	require.NoError(t, err)
	require.Equal(t, int32(1), loads.Load(), "second call must be a cache hit")
}

func TestGetOrLoad_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})
	boom := errors.New("upstream down")

	_, err := c.GetOrLoad(ctx, dac1Params(), func(context.Context) (*frame.Frame, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	f, err := c.GetOrLoad(ctx, dac1Params(), func(context.Context) (*frame.Frame, error) {
		return sampleFrame(), nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.Len())
}

func TestGetOrLoad_ReservedExtraFails(t *testing.T) {
	c := newCache(t, Options{})
	p := dac1Params()
	p.Extra = map[string]any{"url": "https://example.org/other"}

	called := false
	_, err := c.GetOrLoad(context.Background(), p, func(context.Context) (*frame.Frame, error) {
		called = true
		return sampleFrame(), nil
	})
	require.ErrorIs(t, err, ErrReservedParam)
	require.False(t, called)
}

func TestGetOrLoad_Disabled(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, Options{})
	c.Disable()

	var loads int
	load := func(context.Context) (*frame.Frame, error) {
		loads++
		return sampleFrame(), nil
	}
	for i := 0; i < 2; i++ {
		_, err := c.GetOrLoad(ctx, dac1Params(), load)
		require.NoError(t, err)
	}
	require.Equal(t, 2, loads)
}
