package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/logging"
	"github.com/Sternrassler/oda-reader/pkg/oda"
)

// Config holds warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel downloads
	MaxConcurrency int
	// Timeout per download (0 = bounded by the caller's context only)
	Timeout time.Duration
}

// DefaultConfig returns the default warmer configuration. The upstream
// allows 20 calls per minute, so a small pool is enough to keep it busy.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        10 * time.Minute,
	}
}

// Downloader is implemented by *oda.Reader.
type Downloader interface {
	Download(ctx context.Context, req oda.Request) (*frame.Frame, error)
}

// Result is the outcome of one request.
type Result struct {
	Index    int
	Request  oda.Request
	Rows     int
	Duration time.Duration
	Err      error
}

// Warmer downloads requests in parallel to populate the caches.
type Warmer struct {
	downloader Downloader
	config     Config
	logger     zerolog.Logger
}

// NewWarmer creates a warmer. A nil logger falls back to the component logger.
func NewWarmer(d Downloader, config Config, logger *zerolog.Logger) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Warmer{
		downloader: d,
		config:     config,
		logger:     logging.OrDefault(logger, logging.ComponentPrefetch),
	}
}

type job struct {
	index int
	req   oda.Request
}

// Warm downloads every request and returns one Result per request, in input
// order. The error is non-nil when at least one request failed or the
// context was cancelled before every request ran.
func (w *Warmer) Warm(ctx context.Context, reqs []oda.Request) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(reqs))
	if len(reqs) == 0 {
		return results, nil
	}

	workers := min(w.config.MaxConcurrency, len(reqs))
	w.logger.Info().
		Int("requests", len(reqs)).
		Int("workers", workers).
		Msg("Starting cache warm-up")

	queue := make(chan job)
	go func() {
		defer close(queue)
		for i, req := range reqs {
			select {
			case queue <- job{index: i, req: req}:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	ran := make([]bool, len(reqs))
	for id := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			processed := 0
			for j := range queue {
				res := w.run(ctx, j)

				mu.Lock()
				results[j.index] = res
				ran[j.index] = true
				done++
				if done%10 == 0 {
					w.logger.Info().
						Int("done", done).
						Int("total", len(reqs)).
						Float64("progress_pct", float64(done)/float64(len(reqs))*100).
						Msg("Warm-up progress")
				}
				mu.Unlock()
				processed++
			}
			w.logger.Debug().Int("worker_id", id).Int("processed", processed).Msg("Worker completed")
		}()
	}
	wg.Wait()

	var errs []error
	for i := range results {
		if !ran[i] {
			results[i] = Result{Index: i, Request: reqs[i], Err: ctx.Err()}
		}
		if err := results[i].Err; err != nil {
			errs = append(errs, fmt.Errorf("request %d (%s): %w", i, reqs[i].Dataset, err))
		}
	}

	w.logger.Info().
		Int("requests", len(reqs)).
		Int("failed", len(errs)).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up complete")

	if len(errs) > 0 {
		return results, fmt.Errorf("warm-up: %d of %d requests failed: %w", len(errs), len(reqs), errors.Join(errs...))
	}
	return results, nil
}

func (w *Warmer) run(ctx context.Context, j job) Result {
	res := Result{Index: j.index, Request: j.req}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	f, err := w.downloader.Download(ctx, j.req)
	res.Duration = time.Since(start)
	if err != nil {
		w.logger.Warn().
			Err(err).
			Int("index", j.index).
			Str("dataset", string(j.req.Dataset)).
			Msg("Warm-up request failed")
		res.Err = err
		return res
	}
	res.Rows = f.Len()
	return res
}
