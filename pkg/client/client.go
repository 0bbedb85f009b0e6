// Package client provides the resilient HTTP fetcher for the OECD SDMX APIs.
//
// Every request goes through the HTTP response cache and, on a cache miss,
// through the rate limiter. Fetch adds the upstream-specific recovery rules:
// dataflow version step-down on "Dataflow"/"NoRecordsFound" 404s and the
// /public/ to /dcd-public/ rewrite on the known 500 misconfiguration.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/logging"
	"github.com/Sternrassler/oda-reader/pkg/metrics"
	"github.com/Sternrassler/oda-reader/pkg/ratelimit"
)

// DefaultMaxVersionRetries bounds dataflow version probing: 5 retries, 6 attempts.
const DefaultMaxVersionRetries = 5

const tracerName = "github.com/Sternrassler/oda-reader/pkg/client"

// Config holds the client configuration.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single cached request (0 = no timeout). Streaming
	// downloads are bounded only by their context.
	Timeout time.Duration

	// Compressed requests gzip bodies (Accept-Encoding: gzip).
	Compressed bool

	// MaxVersionRetries bounds dataflow version step-downs.
	MaxVersionRetries int

	// Retry configures transport retries on network errors.
	Retry RetryConfig

	// Limiter gates every request that reaches the network. Nil creates a
	// limiter with the default window.
	Limiter *ratelimit.Limiter

	// Cache is the HTTP response cache; nil disables HTTP caching.
	Cache *httpcache.Manager

	// Transport is the base round tripper (http.DefaultTransport when nil).
	Transport http.RoundTripper

	Logger  *zerolog.Logger
	Metrics *metrics.Collector
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent:         "oda-reader-go",
		Timeout:           5 * time.Minute,
		Compressed:        true,
		MaxVersionRetries: DefaultMaxVersionRetries,
		Retry:             DefaultRetryConfig(),
	}
}

// Response is a fully read upstream response.
type Response struct {
	// URL is the URL that produced the response (after version step-down,
	// path rewrite and redirects).
	URL        string
	StatusCode int

	// Body is the decoded (gunzipped) payload.
	Body []byte

	// FromCache is true when the HTTP cache answered without the network.
	FromCache bool

	// Stale is true when a stale entry was served after a live failure.
	Stale bool

	// Attempts counts the requests Fetch issued, cache hits included.
	Attempts int
}

// Client is the resilient fetcher.
type Client struct {
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *ratelimit.Limiter
	cache        *httpcache.Manager
	cfg          Config
	logger       zerolog.Logger
	metrics      *metrics.Collector
	tracer       trace.Tracer
}

// New creates a client. The transport chain is
// cache -> rate limiter -> base, so cache hits never wait on the limiter.
func New(cfg Config) (*Client, error) {
	if cfg.MaxVersionRetries < 0 {
		return nil, fmt.Errorf("max_version_retries must be >= 0 (got %d)", cfg.MaxVersionRetries)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := logging.OrDefault(cfg.Logger, logging.ComponentClient)

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultMaxCalls, ratelimit.DefaultPeriod, logger, cfg.Metrics)
	}

	limited := ratelimit.NewTransport(limiter, cfg.Transport)

	var rt http.RoundTripper = limited
	if cfg.Cache != nil {
		rt = httpcache.NewTransport(cfg.Cache, limited)
	}

	return &Client{
		httpClient:   &http.Client{Transport: rt, Timeout: cfg.Timeout},
		streamClient: &http.Client{Transport: limited},
		limiter:      limiter,
		cache:        cfg.Cache,
		cfg:          cfg,
		logger:       logger,
		metrics:      cfg.Metrics,
		tracer:       otel.Tracer(tracerName),
	}, nil
}

// Limiter returns the rate limiter shared by all requests of this client.
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

// Cache returns the HTTP cache manager (nil when HTTP caching is off).
func (c *Client) Cache() *httpcache.Manager { return c.cache }

func (c *Client) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Compressed {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	return req, nil
}

// Get performs one cached, rate-limited GET and returns the response whatever
// its status. Network errors are retried with backoff.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := c.newRequest(ctx, url)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		resp *http.Response
		body []byte
	)
	err = c.retryWithBackoff(ctx, url, func() error {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()

		b, err := io.ReadAll(r.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		resp, body = r, b
		return nil
	})
	if err != nil {
		if c.metrics != nil {
			c.metrics.Requests.WithLabelValues("network_error", "network").Inc()
		}
		return nil, err
	}

	out := &Response{
		URL:        url,
		StatusCode: resp.StatusCode,
		FromCache:  httpcache.FromCache(resp),
		Stale:      httpcache.IsStale(resp),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		out.URL = resp.Request.URL.String()
	}

	out.Body, err = decodeBody(resp.Header, body)
	if err != nil {
		if out.FromCache && c.cache != nil {
			// Drop the entry so the next call goes to the network.
			if derr := c.cache.Delete(ctx, httpcache.KeyFor(req)); derr != nil {
				c.logger.Warn().Err(derr).Str("url", url).Msg("Failed to delete undecodable cache entry")
			}
		}
		return nil, fmt.Errorf("decode response from %s: %w", out.URL, err)
	}

	source := "network"
	if out.FromCache {
		source = "cache"
	}
	if c.metrics != nil {
		c.metrics.Requests.WithLabelValues(strconv.Itoa(out.StatusCode), source).Inc()
		c.metrics.RequestDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	}

	log := logging.FromContext(ctx, c.logger)
	if out.FromCache {
		log.Info().Str("url", url).Bool("stale", out.Stale).Msg("Loading data from HTTP cache")
	} else {
		log.Info().
			Str("url", url).
			Int("status_code", out.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("Fetched data from API")
	}

	if out.URL != url && c.cache != nil && c.cache.Enabled() && httpcache.Cacheable(out.StatusCode) {
		from := httpcache.KeyFor(req)
		to := httpcache.Key{Method: http.MethodGet, URL: out.URL, Headers: req.Header}
		if err := c.cache.RecordRedirect(ctx, from, to); err != nil {
			log.Warn().Err(err).Str("url", url).Msg("Failed to record redirect")
		}
	}

	return out, nil
}

// Fetch retrieves url, stepping the dataflow version down on version misses
// and applying the dcd-public rewrite once on the known 500 response.
//
// Errors: ErrNoData when the URL has no version left to probe;
// ErrRetryExhausted (also matching ErrNoData) when the step-down budget ran
// out; *UpstreamError for any other status above 299.
func (c *Client) Fetch(ctx context.Context, url string) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "client.Fetch", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	resp, err := c.fetch(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("final_url", resp.URL),
		attribute.Int("attempts", resp.Attempts),
		attribute.Bool("from_cache", resp.FromCache),
	)
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, url string) (*Response, error) {
	log := logging.FromContext(ctx, c.logger)
	attempts := 0

	for retries := 0; ; retries++ {
		resp, err := c.Get(ctx, url)
		attempts++
		if err != nil {
			return nil, err
		}

		if isVersionMiss(resp) {
			if retries >= c.cfg.MaxVersionRetries {
				c.versionOutcome("exhausted")
				log.Error().
					Str("url", url).
					Int("attempts", attempts).
					Msg("Gave up probing dataflow versions")
				return nil, fmt.Errorf("%w: %d dataflow versions tried, last %s: %w",
					ErrRetryExhausted, attempts, url, ErrNoData)
			}

			current, ok := ExtractVersion(url)
			var prev Version
			if ok {
				prev, ok = current.Prev()
			}
			if !ok {
				c.versionOutcome("no_version")
				log.Error().Str("url", url).Msg("No data found for the selected parameters")
				return nil, fmt.Errorf("%w: %s", ErrNoData, url)
			}

			next := ReplaceVersion(url, prev)
			c.versionOutcome("step_down")
			log.Info().
				Str("from", current.String()).
				Str("to", prev.String()).
				Msg("Dataflow version not found, trying previous version")
			url = next
			continue
		}

		if resp.StatusCode == http.StatusInternalServerError && bytes.Contains(resp.Body, []byte("not set to")) {
			if rewritten := strings.Replace(url, "/public/", "/dcd-public/", 1); rewritten != url {
				log.Info().Str("url", rewritten).Msg("Retrying on dcd-public endpoint")
				url = rewritten
				resp, err = c.Get(ctx, url)
				attempts++
				if err != nil {
					return nil, err
				}
			}
		}

		if resp.StatusCode > 299 {
			uerr := newUpstreamError(resp.StatusCode, resp.URL, resp.Body)
			log.Error().
				Int("status_code", resp.StatusCode).
				Str("url", resp.URL).
				Str("error_class", string(uerr.ErrorClass)).
				Msg("Upstream request failed")
			return nil, uerr
		}

		resp.Attempts = attempts
		return resp, nil
	}
}

func (c *Client) versionOutcome(outcome string) {
	if c.metrics != nil {
		c.metrics.VersionFallback.WithLabelValues(outcome).Inc()
	}
}

// isVersionMiss reports the upstream's "dataflow version does not exist" reply.
func isVersionMiss(resp *Response) bool {
	if resp.StatusCode != http.StatusNotFound {
		return false
	}
	return bytes.Contains(resp.Body, []byte("Dataflow")) ||
		string(bytes.TrimSpace(resp.Body)) == "NoRecordsFound"
}

// Stream downloads url into w without HTTP caching. The request is still
// rate-limited. It returns the number of bytes written.
func (c *Client) Stream(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	log := logging.FromContext(ctx, c.logger)
	log.Info().Str("url", url).Msg("Streaming download")

	var resp *http.Response
	err = c.retryWithBackoff(ctx, url, func() error {
		r, err := c.streamClient.Do(req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSnippet+1))
		return 0, newUpstreamError(resp.StatusCode, url, body)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("stream %s: %w", url, err)
	}
	return n, nil
}

// StreamToFile downloads url into path.
func (c *Client) StreamToFile(ctx context.Context, url, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := c.Stream(ctx, url, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// decodeBody gunzips bodies the transport did not decode itself.
func decodeBody(h http.Header, body []byte) ([]byte, error) {
	if !strings.EqualFold(h.Get("Content-Encoding"), "gzip") || len(body) == 0 {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.streamClient.CloseIdleConnections()
	return nil
}
