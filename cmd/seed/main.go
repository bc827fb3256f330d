package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"cntrlx-store/internal/catalog"
	"cntrlx-store/internal/config"
	"cntrlx-store/internal/db"
	"cntrlx-store/internal/logging"
	purchaserepo "cntrlx-store/internal/repository/purchase"
	"cntrlx-store/internal/seed"
)

func main() {
	userID := flag.String("user", "", "User id (token subject) to own the demo purchases")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("app", "seed")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		logger.Error("connect db", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	created, err := seed.Apply(ctx, purchaserepo.NewPostgres(pool, logger), catalog.Default(), *userID, time.Now())
	if err != nil {
		logger.Error("seed apply", "err", err)
		os.Exit(1)
	}

	logger.Info("seed applied", "user_id", *userID, "created", created)
}
