// Package containers starts throwaway infrastructure for container-backed
// tests. Callers are expected to skip these tests in -short mode.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer is a disposable postgres instance for repository tests.
type PostgresContainer struct {
	*tcpostgres.PostgresContainer

	// ConnectionString is ready to hand to pgxpool.New.
	ConnectionString string
}

// NewPostgresContainer starts postgres and blocks until it accepts
// connections through the pgx driver, not merely until the process logs
// readiness.
func NewPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("npg_test"),
		tcpostgres.WithUsername("npg"),
		tcpostgres.WithPassword("npg"),
		testcontainers.WithWaitStrategy(
			wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
				return fmt.Sprintf("postgres://npg:npg@%s:%s/npg_test?sslmode=disable", host, port.Port())
			}).WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("starting postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("resolving postgres connection string: %w", err)
	}

	return &PostgresContainer{
		PostgresContainer: container,
		ConnectionString:  connStr,
	}, nil
}
