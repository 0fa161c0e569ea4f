package containers

import (
	"context"
	"fmt"
	"strings"

	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// RedisContainer wraps the testcontainers redis module and exposes the
// bare host:port address the gateway's redis client expects.
type RedisContainer struct {
	*tcredis.RedisContainer
	Address string
}

// NewRedisContainer starts a disposable redis. Terminate it in a test
// cleanup.
func NewRedisContainer(ctx context.Context) (*RedisContainer, error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return nil, fmt.Errorf("start redis container: %w", err)
	}

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection string: %w", err)
	}

	return &RedisContainer{
		RedisContainer: container,
		Address:        strings.TrimPrefix(uri, "redis://"),
	}, nil
}
