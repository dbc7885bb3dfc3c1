// Package testutil provides Redis containers and run factories for
// distributed run system testing.
package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func init() {
	// t.Setenv would prevent t.Parallel, so set this once globally
	_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
}

// RedisContainer holds the test Redis container and connection details
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
}

// SetupRedis starts a dedicated Redis container for one test. The
// container is terminated during test cleanup.
func SetupRedis(t *testing.T) *RedisContainer {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(15 * time.Second),
		Cmd: []string{"redis-server", "--maxmemory", "100mb", "--maxmemory-policy", "allkeys-lru"},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, port, err := containerEndpoint(ctx, container)
	if err != nil {
		t.Fatalf("failed to get redis connection details: %v", err)
	}

	return &RedisContainer{
		Container: container,
		URL:       fmt.Sprintf("redis://%s:%s", host, port),
	}
}

// containerEndpoint retrieves host and mapped port with retries
func containerEndpoint(ctx context.Context, container testcontainers.Container) (string, string, error) {
	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)

		host, err := container.Host(attemptCtx)
		if err != nil {
			cancel()
			if i == maxRetries-1 {
				return "", "", fmt.Errorf("failed to get redis host after %d retries: %w", maxRetries, err)
			}
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
			continue
		}

		// Force IPv4 to avoid IPv6 issues in CI environments
		if host == "localhost" || host == "::1" || host == "[::1]" {
			host = "127.0.0.1"
		}

		mappedPort, err := container.MappedPort(attemptCtx, "6379")
		cancel()
		if err != nil {
			if i == maxRetries-1 {
				return "", "", fmt.Errorf("failed to get redis port after %d retries: %w", maxRetries, err)
			}
			time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
			continue
		}

		return host, mappedPort.Port(), nil
	}
	return "", "", fmt.Errorf("unexpected retry loop exit")
}

// Stop stops the Redis container, for resilience testing
func (r *RedisContainer) Stop(ctx context.Context) error {
	timeout := 10 * time.Second
	if err := r.Container.Stop(ctx, &timeout); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// Start restarts a stopped Redis container and refreshes the URL,
// since the mapped port can change across restarts
func (r *RedisContainer) Start(ctx context.Context) error {
	if err := r.Container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	host, port, err := containerEndpoint(ctx, r.Container)
	if err != nil {
		return fmt.Errorf("failed to get connection details after restart: %w", err)
	}
	r.URL = fmt.Sprintf("redis://%s:%s", host, port)
	return nil
}
