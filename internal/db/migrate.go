package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/memohai/switchboard/internal/config"
)

// Migrate commands accepted by RunMigrate.
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
	MigrateForce   = "force"
)

// RunMigrate applies, rolls back or inspects the schema.
// migrationsFS must hold the .sql files at its root.
// "down" takes an optional step count (all when omitted); "force" requires a version.
func RunMigrate(logger *slog.Logger, cfg config.PostgresConfig, migrationsFS fs.FS, command string, args []string) error {
	return RunMigrateDSN(logger, DSN(cfg), migrationsFS, command, args)
}

// RunMigrateDSN is RunMigrate for a ready connection URL.
func RunMigrateDSN(logger *slog.Logger, dsn string, migrationsFS fs.FS, command string, args []string) error {
	if logger == nil {
		logger = slog.Default()
	}
	switch command {
	case MigrateUp, MigrateDown, MigrateVersion, MigrateForce:
	default:
		return fmt.Errorf("unknown migrate command: %s (use: up, down, version, force)", command)
	}
	if command == MigrateForce && len(args) == 0 {
		return errors.New("force requires a version number argument")
	}
	if migrationsFS == nil {
		return errors.New("migration source is nil")
	}

	source, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	m.Log = &migrateLogger{logger: logger.With(slog.String("component", "migrate"))}

	switch command {
	case MigrateUp:
		return migrateUp(logger, m)
	case MigrateDown:
		return migrateDown(logger, m, args)
	case MigrateVersion:
		ver, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		logger.Info("current version", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
		return nil
	default:
		version, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
		if err := m.Force(version); err != nil {
			return fmt.Errorf("migrate force: %w", err)
		}
		logger.Info("forced version", slog.Int("version", version))
		return nil
	}
}

func migrateUp(logger *slog.Logger, m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	ver, dirty, _ := m.Version()
	logger.Info("migration complete", slog.Uint64("version", uint64(ver)), slog.Bool("dirty", dirty))
	return nil
}

func migrateDown(logger *slog.Logger, m *migrate.Migrate, args []string) error {
	if len(args) == 0 {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrate down: %w", err)
		}
		logger.Info("all migrations rolled back")
		return nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return fmt.Errorf("invalid step count: %q", args[0])
	}
	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down %d: %w", steps, err)
	}
	logger.Info("migrations rolled back", slog.Int("steps", steps))
	return nil
}

type migrateLogger struct {
	logger *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

func (l *migrateLogger) Verbose() bool {
	return false
}
