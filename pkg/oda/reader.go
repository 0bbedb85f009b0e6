// Package oda is the entry point of oda-reader. A Reader owns the cache
// tiers, the rate limiter and the resilient fetcher, and exposes dataset
// downloads, bulk file downloads and cache maintenance on top of them.
package oda

import (
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/oda-reader/pkg/bulkcache"
	"github.com/Sternrassler/oda-reader/pkg/cachedir"
	"github.com/Sternrassler/oda-reader/pkg/client"
	"github.com/Sternrassler/oda-reader/pkg/framecache"
	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/logging"
	"github.com/Sternrassler/oda-reader/pkg/maintenance"
	"github.com/Sternrassler/oda-reader/pkg/metrics"
	"github.com/Sternrassler/oda-reader/pkg/query"
	"github.com/Sternrassler/oda-reader/pkg/ratelimit"
	"github.com/Sternrassler/oda-reader/pkg/schema"
)

const tracerName = "github.com/Sternrassler/oda-reader/pkg/oda"

// Upstream locations outside the SDMX data API.
const (
	DataflowBaseURL = "https://sdmx.oecd.org/public/rest/dataflow/OECD.DCD.FSD/"
	BulkDownloadURL = "https://stats.oecd.org/wbos/fileview2.aspx?IDFile="
	AidDataURL      = "https://docs.aiddata.org/ad4/datasets/AidDatas_Global_Chinese_Development_Finance_Dataset_Version_3_0.zip"
)

// Endpoints groups every upstream root a Reader talks to.
type Endpoints struct {
	Query        query.Bases
	Dataflow     string
	BulkDownload string
	AidData      string
}

// DefaultEndpoints returns the production endpoints.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Query:        query.DefaultBases(),
		Dataflow:     DataflowBaseURL,
		BulkDownload: BulkDownloadURL,
		AidData:      AidDataURL,
	}
}

// Options configures a Reader. The zero value is usable.
type Options struct {
	// CacheDir overrides the cache root (see cachedir.Resolve).
	CacheDir string

	// DisableHTTPCache and DisableDataFrameCache start the Reader with the
	// tier switched off. EnableCache turns both back on.
	DisableHTTPCache      bool
	DisableDataFrameCache bool

	// HTTPCacheTTL defaults to httpcache.DefaultTTL.
	HTTPCacheTTL time.Duration

	// HTTPStore replaces the SQLite store under the cache root, e.g. with a
	// shared httpcache.RedisStore. The Reader closes it on Close.
	HTTPStore httpcache.Store

	// MemorySize is the number of frames kept in the in-memory tier.
	MemorySize int
	MemoryTTL  time.Duration

	// MaxSizeMB and MaxAge bound the cache root; zero takes the defaults.
	MaxSizeMB float64
	MaxAge    time.Duration

	// LockTimeout bounds waiting for the bulk cache lock.
	LockTimeout time.Duration

	// RateLimit allows MaxCalls network requests per Period.
	RateLimitCalls  int
	RateLimitPeriod time.Duration

	UserAgent string
	Timeout   time.Duration
	Retry     client.RetryConfig

	// APIVersion selects the SDMX REST flavour used by Download.
	APIVersion query.APIVersion

	// Endpoints overrides upstream URLs; zero fields take the defaults.
	Endpoints Endpoints

	// SchemaFS supplies translation and code-mapping files
	// (schema.Defaults() when nil).
	SchemaFS fs.FS

	// Transport is the base round tripper.
	Transport http.RoundTripper

	Logger     *zerolog.Logger
	Registerer prometheus.Registerer
}

// Reader downloads OECD DAC data through the cache tiers.
type Reader struct {
	dirs      cachedir.Dirs
	endpoints Endpoints
	api       query.APIVersion
	schemaFS  fs.FS

	client  *client.Client
	http    *httpcache.Manager
	frames  *framecache.Cache
	bulk    *bulkcache.Manager
	sweeper *maintenance.Sweeper

	logger    zerolog.Logger
	clientLog zerolog.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer

	announce sync.Once
	sweep    sync.Once

	mu          sync.Mutex
	translators map[Dataset]schema.Translator
}

// New builds a Reader and its cache layout.
func New(opts Options) (*Reader, error) {
	logger := logging.OrDefault(opts.Logger, logging.ComponentReader)
	m := metrics.New(opts.Registerer)

	dirs, err := cachedir.Resolve(opts.CacheDir)
	if err != nil {
		return nil, err
	}

	store := opts.HTTPStore
	if store == nil {
		path, err := dirs.HTTPCachePath()
		if err != nil {
			return nil, err
		}
		sqlite, err := httpcache.OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open http cache: %w", err)
		}
		store = sqlite
	}
	httpCache := httpcache.NewManager(store, opts.HTTPCacheTTL,
		logger.With().Str("component", logging.ComponentHTTPCache).Logger(), m)
	if opts.DisableHTTPCache {
		httpCache.Disable()
	}

	calls, period := opts.RateLimitCalls, opts.RateLimitPeriod
	if calls <= 0 {
		calls = ratelimit.DefaultMaxCalls
	}
	if period <= 0 {
		period = ratelimit.DefaultPeriod
	}
	limiterLog := logger.With().Str("component", logging.ComponentRateLimit).Logger()
	limiter := ratelimit.NewLimiter(calls, period, limiterLog, m)

	cfg := client.DefaultConfig()
	if opts.UserAgent != "" {
		cfg.UserAgent = opts.UserAgent
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.Retry.MaxAttempts > 0 {
		cfg.Retry = opts.Retry
	}
	clientLog := logger.With().Str("component", logging.ComponentClient).Logger()
	cfg.Limiter = limiter
	cfg.Cache = httpCache
	cfg.Transport = opts.Transport
	cfg.Logger = &clientLog
	cfg.Metrics = m
	c, err := client.New(cfg)
	if err != nil {
		httpCache.Close()
		return nil, err
	}

	frameDir, err := dirs.DataFrameDir()
	if err != nil {
		httpCache.Close()
		return nil, err
	}
	frames, err := framecache.New(frameDir, framecache.Options{
		MemorySize: opts.MemorySize,
		MemoryTTL:  opts.MemoryTTL,
		Logger:     logger.With().Str("component", logging.ComponentFrameCache).Logger(),
		Metrics:    m,
	})
	if err != nil {
		httpCache.Close()
		return nil, err
	}
	if opts.DisableDataFrameCache {
		frames.Disable()
	}

	bulkDir, err := dirs.BulkDir()
	if err != nil {
		httpCache.Close()
		return nil, err
	}
	bulk, err := bulkcache.New(bulkDir, bulkcache.Options{
		LockTimeout: opts.LockTimeout,
		Logger:      logger.With().Str("component", logging.ComponentBulkCache).Logger(),
		Metrics:     m,
	})
	if err != nil {
		httpCache.Close()
		return nil, err
	}

	sweeper := maintenance.NewSweeper(dirs.Root(), maintenance.Options{
		MaxAge:    opts.MaxAge,
		MaxSizeMB: opts.MaxSizeMB,
		Locker:    bulk,
		Pruner:    httpCache.Prune,
		Logger:    logger.With().Str("component", logging.ComponentMaintenance).Logger(),
		Metrics:   m,
	})

	schemaFS := opts.SchemaFS
	if schemaFS == nil {
		schemaFS = schema.Defaults()
	}

	return &Reader{
		dirs:        dirs,
		endpoints:   withDefaults(opts.Endpoints),
		api:         opts.APIVersion,
		schemaFS:    schemaFS,
		client:      c,
		http:        httpCache,
		frames:      frames,
		bulk:        bulk,
		sweeper:     sweeper,
		logger:      logger,
		clientLog:   clientLog,
		metrics:     m,
		tracer:      otel.Tracer(tracerName),
		translators: make(map[Dataset]schema.Translator),
	}, nil
}

func withDefaults(e Endpoints) Endpoints {
	d := DefaultEndpoints()
	if e.Query.V1 != "" {
		d.Query.V1 = e.Query.V1
	}
	if e.Query.V2 != "" {
		d.Query.V2 = e.Query.V2
	}
	if e.Query.DCD != "" {
		d.Query.DCD = e.Query.DCD
	}
	if e.Dataflow != "" {
		d.Dataflow = e.Dataflow
	}
	if e.BulkDownload != "" {
		d.BulkDownload = e.BulkDownload
	}
	if e.AidData != "" {
		d.AidData = e.AidData
	}
	return d
}

// CacheDir returns the cache root.
func (r *Reader) CacheDir() string { return r.dirs.Root() }

// Client returns the resilient fetcher.
func (r *Reader) Client() *client.Client { return r.client }

// Metrics returns the collector all tiers report to.
func (r *Reader) Metrics() *metrics.Collector { return r.metrics }

// Close releases the HTTP cache store and idle connections.
func (r *Reader) Close() error {
	r.client.Close()
	return r.http.Close()
}

func (r *Reader) translator(ds Dataset, def datasetDef) (schema.Translator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.translators[ds]; ok {
		return t, nil
	}
	t, err := schema.Load(r.schemaFS, def.schema)
	if err != nil {
		return nil, fmt.Errorf("load %s schema: %w", ds, err)
	}
	r.translators[ds] = t
	return t, nil
}
