package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Migrate applies all pending migrations. goose works on database/sql, so
// the pool is wrapped rather than opening a second connection pool.
func (db *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	sqlDB, err := db.goose(logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrationStatus logs the state of every migration through logger.
func (db *DB) MigrationStatus(ctx context.Context, logger *slog.Logger) error {
	sqlDB, err := db.goose(logger)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return goose.StatusContext(ctx, sqlDB, migrationsDir)
}

// Version returns the current schema version.
func (db *DB) Version(ctx context.Context) (int64, error) {
	sqlDB, err := db.goose(nil)
	if err != nil {
		return 0, err
	}
	defer sqlDB.Close()
	return goose.GetDBVersionContext(ctx, sqlDB)
}

func (db *DB) goose(logger *slog.Logger) (*sql.DB, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	if logger != nil {
		goose.SetLogger(gooseLogger{logger})
	} else {
		goose.SetLogger(goose.NopLogger())
	}
	return stdlib.OpenDBFromPool(db.Pool), nil
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}
