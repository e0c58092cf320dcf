package main

import (
	"context"
	"flag"
	"log"

	"tchat-server/internal/config"
	"tchat-server/internal/database"
	"tchat-server/internal/logging"

	"go.uber.org/zap"
)

// Rewrites stored trigger payloads (legacy flag-bag actions included) into
// the canonical JSON form the dashboard writes.
func main() {
	dryRun := flag.Bool("dry-run", false, "report changes without writing them")
	flag.Parse()

	cfg := config.LoadConfig()
	zl, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	db, err := database.Open(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to open database", zap.Error(err))
	}

	report, err := database.NormalizeTriggers(context.Background(), db, *dryRun, zl)
	if err != nil {
		zl.Fatal("Normalization failed", zap.Error(err))
	}

	zl.Info("Done",
		zap.Int("scanned", report.Scanned),
		zap.Int("rewritten", report.Rewritten),
		zap.Int("malformed", report.Malformed),
		zap.Bool("dry_run", *dryRun))
}
