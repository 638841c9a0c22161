// Command import_legacy loads a JSON export of the previous document store
// into Postgres.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"kitchenledger/internal/config"
	"kitchenledger/internal/db"
	"kitchenledger/internal/logger"
	"kitchenledger/internal/repository"
)

type options struct {
	exportPath string
	replace    bool
	dryRun     bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.Load()
	if err != nil {
		logger.Init("import_legacy", true)
		logger.Logger.Fatal().Err(err).Msg("config error")
	}
	logger.Init(cfg.ServiceName+"-import", true)
	logger.SetLevel(cfg.LogLevel)

	snap, err := readSnapshot(opts.exportPath)
	if err != nil {
		logger.Logger.Fatal().Err(err).Str("path", opts.exportPath).Msg("read export")
	}
	logger.Logger.Info().
		Int("inventory", len(snap.Inventory)).
		Int("recipes", len(snap.Recipes)).
		Int("purchases", len(snap.Purchases)).
		Int("waste", len(snap.Waste)).
		Int("usage_logs", len(snap.UsageLogs)).
		Int("daily_metrics", len(snap.Metrics)).
		Msg("export parsed")
	if opts.dryRun {
		return
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{ApplicationName: "kitchenledger-import"})
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("database error")
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		logger.Logger.Fatal().Err(err).Msg("migration error")
	}

	if err := repository.New(pool).ImportSnapshot(ctx, snap, opts.replace); err != nil {
		logger.Logger.Fatal().Err(err).Msg("import failed")
	}
	logger.Logger.Info().Bool("replace", opts.replace).Msg("import complete")
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.exportPath, "export", "../export.json", "path to the legacy JSON export")
	flag.BoolVar(&opts.replace, "replace", false, "truncate every ledger table before importing")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "parse and validate the export without writing")
	flag.Parse()
	return opts
}

func readSnapshot(path string) (repository.Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	export, err := readExport(file)
	if err != nil {
		return repository.Snapshot{}, err
	}
	return toSnapshot(export, time.Now().UTC())
}
