package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, retry RetryConfig) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Retry = retry
	nop := zerolog.Nop()
	cfg.Logger = &nop
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 2*time.Second {
		t.Errorf("InitialBackoff = %v, want 2s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryWithBackoff_NetworkErrorRetried(t *testing.T) {
	c := testClient(t, fastRetry())

	calls := 0
	err := c.retryWithBackoff(context.Background(), "u", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("retryWithBackoff() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	c := testClient(t, fastRetry())
	netErr := errors.New("connection refused")

	calls := 0
	err := c.retryWithBackoff(context.Background(), "u", func() error {
		calls++
		return netErr
	})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("error = %v, want ErrRetryExhausted", err)
	}
	if !errors.Is(err, netErr) {
		t.Errorf("error = %v, want it to wrap the last error", err)
	}
	if errors.Is(err, ErrNoData) {
		t.Error("transport exhaustion must not match ErrNoData")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithBackoff_UpstreamNotRetried(t *testing.T) {
	c := testClient(t, fastRetry())

	calls := 0
	err := c.retryWithBackoff(context.Background(), "u", func() error {
		calls++
		return newUpstreamError(400, "u", nil)
	})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	c := testClient(t, RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Hour,
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.retryWithBackoff(ctx, "u", func() error {
		return errors.New("connection reset")
	})

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("error = %v, want ErrContextCancelled", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want it to wrap DeadlineExceeded", err)
	}
}
