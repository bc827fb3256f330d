package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"cntrlx-store/internal/config"
	"cntrlx-store/internal/db"
	"cntrlx-store/internal/logging"
	"cntrlx-store/internal/migrate"
)

func main() {
	down := flag.Int("down", 0, "Roll back this many migrations instead of applying")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("app", "migrate")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Error("connect db", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *down > 0 {
		if err := migrate.Rollback(ctx, pool, *down); err != nil {
			logger.Error("roll back migrations", "err", err)
			os.Exit(1)
		}
	} else if err := migrate.Apply(ctx, pool); err != nil {
		logger.Error("apply migrations", "err", err)
		os.Exit(1)
	}

	version, dirty, ok, err := migrate.Version(ctx, pool)
	if err != nil {
		logger.Error("read schema version", "err", err)
		os.Exit(1)
	}
	if !ok {
		logger.Info("schema empty")
		return
	}
	logger.Info("migrations applied", "version", version, "dirty", dirty)
}
