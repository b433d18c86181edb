package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/AngelCh415/creative-ops/internal/cardsync"
	"github.com/AngelCh415/creative-ops/internal/config"
	"github.com/AngelCh415/creative-ops/internal/httpx"
	"github.com/AngelCh415/creative-ops/internal/metrics"
	"github.com/AngelCh415/creative-ops/internal/metricsapi"
	"github.com/AngelCh415/creative-ops/internal/period"
	"github.com/AngelCh415/creative-ops/internal/remote"
	"github.com/AngelCh415/creative-ops/internal/store"
	"github.com/AngelCh415/creative-ops/internal/trello"
)

// shared is what both the memory and the redis backends offer to the coordinator and /readyz.
type shared interface {
	cardsync.Store
	Ping(ctx context.Context) error
}

func main() {
	loaded := config.LoadDotEnv()
	cfg, err := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("config error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	if len(loaded) > 0 {
		logger.Debug("env files loaded", slog.Any("files", loaded))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenSQL(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("db open failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	var sh shared = store.NewMemoryStore()
	if cfg.RedisURL != "" {
		client, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer client.Close()
		sh = store.NewRedisStore(client)
	}

	cl := remote.NewHTTPClient(cfg.HTTPTimeout)
	mapi := metricsapi.New(cl, metricsapi.Config{
		BaseURL:   cfg.MetricsAPIURL,
		BatchSize: cfg.MetricsBatchSize,
		Retries:   cfg.HTTPRetries,
	}, logger)
	tc := trello.New(cl, trello.Config{
		Key:         cfg.TrelloKey,
		Token:       cfg.TrelloToken,
		BoardID:     cfg.TrelloBoardID,
		Concurrency: cfg.TrelloConcurrency,
		Retries:     cfg.HTTPRetries,
	}, logger)
	mSvc := metrics.NewService(mapi, db, cfg.MetricsCacheTTL, logger)

	coord := cardsync.New(sh, tc, db, cardsync.Config{
		TabID:             cfg.InstanceID,
		LeaderTimeout:     cfg.LeaderTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.PollInterval,
		ElectionInterval:  cfg.ElectionInterval,
	}, logger)

	syncDone := make(chan struct{})
	if cfg.TrelloConfigured() {
		go func() {
			defer close(syncDone)
			coord.Run(ctx)
		}()
	} else {
		close(syncDone)
		logger.Warn("trello not configured, card sync disabled")
	}

	r := httpx.NewRouter(httpx.Deps{
		Log:        logger,
		Store:      db,
		Shared:     sh,
		Metrics:    mSvc,
		MetricsAPI: mapi,
		Cards:      coord,
		Period:     period.New(cfg.Location()),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.String("err", err.Error()))
		}
	}()

	logger.Info("starting server",
		slog.String("port", cfg.Port),
		slog.String("instance", cfg.InstanceID),
		slog.Bool("redis", cfg.RedisURL != ""),
		slog.String("timezone", cfg.Location().String()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.String("err", err.Error()))
		os.Exit(1)
	}
	<-syncDone
	logger.Info("server stopped")
}
