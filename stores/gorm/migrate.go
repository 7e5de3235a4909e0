//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable records applied schema versions
const MigrationsTable = "accounts_schema_migrations"

// ErrUnsupportedDialect is returned by Migrate for databases other than Postgres.
var ErrUnsupportedDialect = errors.New("migrations are written for postgres")

// Migrate applies the embedded SQL migrations with goose. The migrations
// target Postgres; tests on SQLite use AutoMigrate.
func Migrate(ctx context.Context, db *gorm.DB, logger *slog.Logger) error {
	if name := db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("%w: got %s", ErrUnsupportedDialect, name)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(gooseLogger{logger})
	goose.SetTableName(MigrationsTable)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// gooseLogger routes goose output through slog
type gooseLogger struct {
	log *slog.Logger
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...))
}
