package main

import (
	"log"

	"tchat-server/internal/config"
	"tchat-server/internal/database"
	"tchat-server/internal/logging"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Copies a local SQLite database (DB_PATH) into the Postgres database
// described by the DB_* settings.
func main() {
	cfg := config.LoadConfig()

	zl, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		zl.Fatal("Failed to connect to SQLite", zap.Error(err))
	}
	zl.Info("Connected to SQLite", zap.String("path", cfg.DBPath))

	// 2. Connect to PostgreSQL (Destination), creating the schema
	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg, zl)
	if err != nil {
		zl.Fatal("Failed to connect to Postgres", zap.Error(err))
	}

	zl.Info("Starting data migration")
	if err := database.CopyAll(sqliteDB, pgDB, zl); err != nil {
		zl.Fatal("Migration failed", zap.Error(err))
	}
	zl.Info("Migration completed")
}
