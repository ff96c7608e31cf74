package containers

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const redisPort nat.Port = "6379/tcp"

// RedisContainer is a running Redis instance and its host:port address.
type RedisContainer struct {
	*tcredis.RedisContainer
	Address string
}

// NewRedisContainer starts Redis 7 with snapshotting disabled.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	c, err := tcredis.Run(ctx, "redis:7-alpine", tcredis.WithLogLevel(tcredis.LogLevelVerbose))
	if err != nil {
		return nil, fmt.Errorf("failed to start redis container: %w", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to get redis host: %w", err)
	}
	port, err := c.MappedPort(ctx, redisPort)
	if err != nil {
		_ = testcontainers.TerminateContainer(c)
		return nil, fmt.Errorf("failed to get redis port: %w", err)
	}

	return &RedisContainer{
		RedisContainer: c,
		Address:        net.JoinHostPort(host, port.Port()),
	}, nil
}

// StartRedis starts a container for t and terminates it on cleanup. The test
// is skipped under -short.
func StartRedis(t *testing.T) *RedisContainer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	rc, err := NewRedisContainer(context.Background())
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(rc)
	})
	return rc
}
