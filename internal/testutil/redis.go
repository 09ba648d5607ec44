//go:build integration

// Package testutil provides helpers for integration tests that need a real
// Redis instance. Unit tests use miniredis and never import this package.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/therapyops/chartrecon/pkg/ledger"
)

// StartRedis starts a disposable Redis container and returns client options
// pointing at it, plus a cleanup function that terminates the container.
func StartRedis(t *testing.T) (*redis.Options, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	opts, err := redis.ParseURL(fmt.Sprintf("redis://%s:%s", host, port.Port()))
	if err != nil {
		t.Fatalf("Failed to parse Redis URL: %v", err)
	}

	cleanup := func() {
		if err := redisC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}

	return opts, cleanup
}

// NewLedgerClient starts a Redis container and returns a ledger client bound
// to it. The client and container are torn down when the test finishes.
func NewLedgerClient(t *testing.T, runName string) *ledger.Client {
	t.Helper()

	opts, cleanup := StartRedis(t)
	t.Cleanup(cleanup)

	client, err := ledger.NewClient(opts, runName)
	if err != nil {
		t.Fatalf("Failed to create ledger client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Redis inside the container can take a moment to accept connections
	// even after the ready log line.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	return client
}
