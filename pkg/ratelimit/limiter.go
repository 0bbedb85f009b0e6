// Package ratelimit bounds the rate of outbound requests to the OECD APIs.
//
// Limiter keeps a sliding window of call timestamps: at no point do more than
// MaxCalls timestamps fall inside any trailing Period. Wait blocks the calling
// goroutine until one more call fits. The limiter is safe for concurrent use
// inside one process; it does not coordinate across processes.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

// Default window: 20 calls per 60 seconds.
const (
	DefaultMaxCalls = 20
	DefaultPeriod   = 60 * time.Second
)

// Limiter is a blocking sliding-window rate limiter.
type Limiter struct {
	mu       sync.Mutex
	maxCalls int
	period   time.Duration
	calls    []time.Time // oldest first

	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewLimiter creates a limiter allowing maxCalls per period.
// Non-positive arguments fall back to the defaults.
func NewLimiter(maxCalls int, period time.Duration, logger zerolog.Logger, m *metrics.Collector) *Limiter {
	l := &Limiter{
		now:     time.Now,
		logger:  logger,
		metrics: m,
	}
	l.setLimit(maxCalls, period)
	return l
}

// SetLimit reconfigures the window. The next Wait uses the new values;
// already recorded timestamps are kept.
func (l *Limiter) SetLimit(maxCalls int, period time.Duration) {
	l.mu.Lock()
	l.setLimit(maxCalls, period)
	l.mu.Unlock()

	l.logger.Info().
		Int("max_calls", maxCalls).
		Dur("period", period).
		Msg("Rate limit updated")
}

func (l *Limiter) setLimit(maxCalls int, period time.Duration) {
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}
	if period <= 0 {
		period = DefaultPeriod
	}
	l.maxCalls = maxCalls
	l.period = period
}

// Limit returns the current window configuration.
func (l *Limiter) Limit() (maxCalls int, period time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxCalls, l.period
}

// Wait blocks until issuing another call would not exceed the limit, then
// records the call. It returns ctx.Err() if the context ends while waiting;
// in that case no call is recorded.
func (l *Limiter) Wait(ctx context.Context) error {
	var waited time.Duration

	for {
		l.mu.Lock()
		now := l.now()
		l.evict(now)

		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			l.mu.Unlock()

			if waited > 0 && l.metrics != nil {
				l.metrics.LimiterWaits.Inc()
				l.metrics.LimiterWaitTime.Observe(waited.Seconds())
			}
			return nil
		}

		sleep := l.period - now.Sub(l.calls[0])
		l.mu.Unlock()

		l.logger.Debug().
			Dur("sleep", sleep).
			Msg("Rate limit reached, waiting")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter wait: %w", ctx.Err())
		case <-timer.C:
		}
		waited += sleep
	}
}

// evict drops timestamps that have left the window. Caller holds l.mu.
func (l *Limiter) evict(now time.Time) {
	i := 0
	for i < len(l.calls) && now.Sub(l.calls[i]) >= l.period {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// InFlight reports how many calls fall inside the current window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	return len(l.calls)
}
