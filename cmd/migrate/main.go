// Command migrate manages the porting-request schema with golang-migrate.
// Migrations live in migrations/ as numbered .up.sql/.down.sql pairs.
package main

import (
	"database/sql"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/telemetry"
)

const migrationsDir = "migrations"

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		action     = flag.String("action", "up", "up, down, version, force, or create")
		steps      = flag.Int("steps", 0, "number of migrations to apply (0 = all)")
		name       = flag.String("name", "", "migration name (create only)")
		target     = flag.Int("target", -1, "version to force (force only)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := runAction(cfg, logger, *action, *steps, *name, *target); err != nil {
		logger.Fatal("migration failed", zap.String("action", *action), zap.Error(err))
	}
}

func runAction(cfg *config.Config, logger *zap.Logger, action string, steps int, name string, target int) error {
	// create needs no database connection.
	if action == "create" {
		if name == "" {
			return fmt.Errorf("migration name is required for create")
		}
		return createMigration(logger, name)
	}

	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is not configured")
	}

	m, cleanup, err := newMigrator(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer cleanup()

	switch action {
	case "up":
		return runUp(m, logger, steps)
	case "down":
		return runDown(m, logger, steps)
	case "version":
		return printVersion(m, logger)
	case "force":
		if target < 0 {
			return fmt.Errorf("target version is required for force")
		}
		if err := m.Force(target); err != nil {
			return err
		}
		logger.Info("forced schema version", zap.Int("version", target))
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func newMigrator(databaseURL string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsDir, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build migrator: %w", err)
	}

	cleanup := func() { m.Close() }
	return m, cleanup, nil
}

func runUp(m *migrate.Migrate, logger *zap.Logger, steps int) error {
	var err error
	if steps > 0 {
		err = m.Steps(steps)
	} else {
		err = m.Up()
	}
	if stderrors.Is(err, migrate.ErrNoChange) {
		logger.Info("no pending migrations")
		return nil
	}
	if err != nil {
		return err
	}
	return printVersion(m, logger)
}

func runDown(m *migrate.Migrate, logger *zap.Logger, steps int) error {
	// Unlike up, a bare down rolls back a single migration. Tearing down
	// the whole schema requires an explicit -steps count.
	if steps <= 0 {
		steps = 1
	}
	err := m.Steps(-steps)
	if stderrors.Is(err, migrate.ErrNoChange) {
		logger.Info("nothing to roll back")
		return nil
	}
	if err != nil {
		return err
	}
	return printVersion(m, logger)
}

func printVersion(m *migrate.Migrate, logger *zap.Logger) error {
	version, dirty, err := m.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		logger.Info("schema is empty, no migrations applied")
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("schema version", zap.Uint("version", uint(version)), zap.Bool("dirty", dirty))
	return nil
}

// createMigration writes an empty numbered .up.sql/.down.sql pair after the
// highest existing sequence.
func createMigration(logger *zap.Logger, name string) error {
	if err := os.MkdirAll(migrationsDir, 0o755); err != nil {
		return fmt.Errorf("create migrations directory: %w", err)
	}

	next, err := nextSequence()
	if err != nil {
		return err
	}

	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
	for _, direction := range []string{"up", "down"} {
		filename := filepath.Join(migrationsDir, fmt.Sprintf("%06d_%s.%s.sql", next, slug, direction))
		if err := os.WriteFile(filename, nil, 0o644); err != nil {
			return fmt.Errorf("create %s: %w", filename, err)
		}
		logger.Info("created migration file", zap.String("file", filename))
	}
	return nil
}

func nextSequence() (int, error) {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	highest := 0
	for _, file := range files {
		base := filepath.Base(file)
		idx := strings.IndexByte(base, '_')
		if idx <= 0 {
			continue
		}
		seq, err := strconv.Atoi(base[:idx])
		if err != nil {
			continue
		}
		if seq > highest {
			highest = seq
		}
	}
	return highest + 1, nil
}
