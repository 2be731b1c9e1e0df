//cmd/seeder/main.go
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unclebandit/outreach-orchestrator/internal/config"
	"github.com/unclebandit/outreach-orchestrator/internal/db"
	"github.com/unclebandit/outreach-orchestrator/internal/logging"
)

// seedFiles run in order; schema.sql is idempotent and the data files skip existing rows.
var seedFiles = []string{
	"schema.sql",
	"targets.sql",
	"calendar.sql",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging).With().Str("service", "outreach-seeder").Logger()

	dir := "seed"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	ctx := context.Background()
	sqlDB, err := db.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect to database")
	}
	defer sqlDB.Close()

	if err := seed(ctx, sqlDB, dir); err != nil {
		logger.Fatal().Err(err).Msg("seeding failed")
	}
	logger.Info().Str("dir", dir).Msg("database seeding completed")
}

func seed(ctx context.Context, sqlDB *sql.DB, dir string) error {
	for _, name := range seedFiles {
		file := filepath.Join(dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := sqlDB.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		fmt.Printf("Seeded: %s\n", file)
	}
	return nil
}
