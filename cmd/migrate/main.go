// Command migrate applies internal/store/schema.sql against the
// configured Postgres database. Every statement in schema.sql is
// idempotent (CREATE ... IF NOT EXISTS), so this is safe to re-run; no
// migration-tooling dependency is introduced.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kunzeritter/manual2vector/internal/config"
	"github.com/kunzeritter/manual2vector/internal/store"
)

func main() {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	cfg, err := config.Load(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := slog.Default()
	ctx := context.Background()

	if err := store.Migrate(ctx, cfg.Postgres); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("schema applied")
}
