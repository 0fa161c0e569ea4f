package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
)

const connectTimeout = 10 * time.Second

// Pool wraps a pgx connection pool configured from DatabaseConfig. The
// gateway keeps a single pool; porting persistence is its only writer.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool parses the database URL, applies pool sizing from cfg, and
// verifies connectivity with a ping before returning.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required")
	}

	poolCfg, err := buildPoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	poolCfg.BeforeConnect = func(ctx context.Context, cc *pgx.ConnConfig) error {
		logger.Debug("establishing database connection",
			zap.String("host", cc.Host),
			zap.Uint16("port", cc.Port))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection pool initialized",
		zap.Int32("max_connections", poolCfg.MaxConns),
		zap.Int32("min_connections", poolCfg.MinConns))

	return &Pool{pool: pool, logger: logger}, nil
}

// buildPoolConfig translates DatabaseConfig into pgx pool settings.
// Non-positive values keep gateway defaults.
func buildPoolConfig(cfg *config.DatabaseConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	} else {
		poolCfg.MaxConns = 25
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	} else {
		poolCfg.MinConns = 5
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	} else {
		poolCfg.MaxConnLifetime = 30 * time.Minute
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	} else {
		poolCfg.MaxConnIdleTime = 10 * time.Minute
	}
	poolCfg.HealthCheckPeriod = time.Minute

	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	poolCfg.ConnConfig.RuntimeParams = map[string]string{
		"application_name":  "npg",
		"timezone":          "UTC",
		"lock_timeout":      "10s",
		"statement_timeout": "30s",
	}

	return poolCfg, nil
}

// Pgx exposes the underlying pool for repositories.
func (p *Pool) Pgx() *pgxpool.Pool {
	return p.pool
}

// DB returns a database/sql handle over the same pool for tooling that
// expects the standard interface.
func (p *Pool) DB() *sql.DB {
	return stdlib.OpenDBFromPool(p.pool)
}

// Transaction runs fn inside a transaction, committing on nil and rolling
// back on error or panic.
func (p *Pool) Transaction(ctx context.Context, fn func(pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, fn)
}

// HealthCheck verifies the database answers a trivial query. Used by the
// readiness endpoint.
func (p *Pool) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := p.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected health check result: %d", result)
	}
	return nil
}

// Stat reports pool usage for diagnostics.
func (p *Pool) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Close shuts the pool down and waits for checked-out connections to be
// returned.
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Info("database connection pool closed")
}
