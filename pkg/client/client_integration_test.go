//go:build integration

package client

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/oda-reader/internal/testutil"
	"github.com/Sternrassler/oda-reader/pkg/httpcache"
	"github.com/Sternrassler/oda-reader/pkg/ratelimit"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func newRedisClient(t *testing.T, rc *redis.Client) *Client {
	t.Helper()

	nop := zerolog.Nop()
	cfg := DefaultConfig()
	cfg.Retry = fastRetry()
	cfg.Logger = &nop
	cfg.Limiter = ratelimit.NewLimiter(100, time.Second, nop, nil)
	cfg.Cache = httpcache.NewManager(httpcache.NewRedisStore(rc, 0), 0, nop, nil)

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestIntegration_VersionFallbackSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockSDMX()
	defer mock.Close()

	mock.SetResponse(dac1("1.6"), testutil.NewDataflowNotFoundResponse())
	mock.SetResponse(dac1("1.5"), testutil.NewCSVResponse("DONOR,OBS_VALUE\n1,2\n"))

	ctx := context.Background()
	url := mock.URL() + dac1("1.6")

	first := newRedisClient(t, redisClient)
	resp, err := first.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}
	if !strings.HasSuffix(resp.URL, dac1("1.5")) {
		t.Errorf("URL = %q, want version 1.5", resp.URL)
	}

	// A second process sharing the Redis cache never reaches upstream.
	second := newRedisClient(t, redisClient)
	resp, err = second.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("second Fetch() error = %v", err)
	}
	if !resp.FromCache {
		t.Error("second client should be served from the shared cache")
	}
	if got := mock.GetRequestCount(); got != 2 {
		t.Errorf("upstream requests = %d, want 2", got)
	}
}

func TestIntegration_ClearSharedCache(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockSDMX()
	defer mock.Close()
	mock.SetResponse("/data", testutil.NewCSVResponse("A\n1\n"))

	ctx := context.Background()
	c := newRedisClient(t, redisClient)

	if _, err := c.Get(ctx, mock.URL()+"/data"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := c.Cache().Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}

	resp, err := c.Get(ctx, mock.URL()+"/data")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if resp.FromCache {
		t.Error("response served from cache after Clear")
	}
}
