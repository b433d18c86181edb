// Command purgecache empties the video metrics cache table.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/AngelCh415/creative-ops/internal/config"
	"github.com/AngelCh415/creative-ops/internal/store"
)

func main() {
	config.LoadDotEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(logger); err != nil {
		logger.Error("purge failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		return errors.New("DB_URL is required")
	}
	if os.Getenv("DB_SERVICE_ROLE_KEY") == "" && os.Getenv("DB_ANON_KEY") == "" {
		return errors.New("DB_SERVICE_ROLE_KEY or DB_ANON_KEY is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.OpenSQL(ctx, dbURL)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.PurgeMetricsCache(ctx)
	if err != nil {
		return err
	}
	logger.Info("metrics cache purged", slog.Int64("rows", n))
	return nil
}
