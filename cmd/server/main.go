package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/podushkina/docextract/internal/api"
	"github.com/podushkina/docextract/internal/config"
	"github.com/podushkina/docextract/internal/dispatch"
	"github.com/podushkina/docextract/internal/extract"
	"github.com/podushkina/docextract/internal/metadata"
	"github.com/podushkina/docextract/internal/queue"
	"github.com/podushkina/docextract/internal/status"
	"github.com/podushkina/docextract/internal/upload"
	"github.com/podushkina/docextract/internal/worker"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)

	if cfg.GeminiAPIKey == "" {
		logger.Fatal().Msg("GEMINI_API_KEY must be set")
	}

	q, err := queue.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer q.Close()

	store, err := metadata.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.MetadataTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer store.Close()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	stager, err := upload.NewStager(cfg.UploadDir, cfg.MaxFileSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload dir")
	}

	provider := extract.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	dispatcher := dispatch.New(q, store, logger)
	statusSvc := status.New(q, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPool(q, provider, cfg.WorkerCount, logger)
	pool.Start(ctx)

	handler := api.NewHandler(dispatcher, statusSvc, q, stager)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	pool.Stop()
	logger.Info().Msg("server stopped")
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "docextract").
		Logger()
}
