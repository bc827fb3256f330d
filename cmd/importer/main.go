package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"cntrlx-store/internal/config"
	"cntrlx-store/internal/db"
	"cntrlx-store/internal/importer"
	"cntrlx-store/internal/logging"
	purchaserepo "cntrlx-store/internal/repository/purchase"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to a purchases CSV export")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("app", "importer")
	ctx := context.Background()

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		log.Fatalf("open file: %v", err)
	}
	defer f.Close()

	imp := importer.NewCSVImporter(f, purchaserepo.NewPostgres(pool, logger))

	start := time.Now()
	res, err := imp.Run(ctx)
	if err != nil {
		log.Fatalf("import failed after %d purchases: %v", res.Imported, err)
	}

	fmt.Printf("Imported %d purchases (%d already on file) in %s\n", res.Imported, res.Skipped, time.Since(start).Truncate(time.Millisecond))
}
