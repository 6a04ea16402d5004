package main

import (
	"flag"
	"os"

	"pos/internal/config"
	"pos/internal/db"
	"pos/internal/logx"

	"go.uber.org/zap"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	steps := flag.Int("steps", 0, "apply n migrations (negative rolls back)")
	flag.Parse()

	cfg := config.Load()
	if err := logx.Init(cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logx.Sync()
	logger := logx.L()

	migrator, err := db.NewMigrator(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open migrator", zap.Error(err))
	}

	switch {
	case *down:
		err = migrator.Down()
	case *steps != 0:
		err = migrator.Steps(*steps)
	default:
		err = migrator.Up()
	}
	if err != nil {
		logger.Error("migration failed", zap.Error(err))
		_ = migrator.Close()
		os.Exit(1)
	}

	version, dirty, err := migrator.Version()
	if err != nil {
		logger.Error("failed to read schema version", zap.Error(err))
	} else {
		logger.Info("schema migrated", zap.Uint("version", version), zap.Bool("dirty", dirty))
	}
	if err := migrator.Close(); err != nil {
		logger.Warn("failed to close migrator", zap.Error(err))
	}
}
