package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers pgx as a database/sql driver for goose
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// runMigrations applies the embedded entities/relationships schema via
// goose. The chunks table is created separately in migrate() because its
// vector column width depends on the configured embedder's dimension,
// which goose's static SQL files can't parameterize.
func runMigrations(ctx context.Context, connString string, logger *logrus.Logger) error {
	sqlDB, err := sql.Open("pgx", connString)
	if err != nil {
		return fmt.Errorf("opening sql.DB for migrations: %w", err)
	}
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, migrationFiles)
	if err != nil {
		return fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", r.Source.Version, r.Source.Path, r.Error)
		}
		logger.WithFields(logrus.Fields{
			"version": r.Source.Version,
			"file":    r.Source.Path,
		}).Info("migration applied")
	}

	if len(results) == 0 {
		logger.Debug("all migrations already applied")
	}

	return nil
}
