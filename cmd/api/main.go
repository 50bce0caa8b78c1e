package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"async-image-tools/internal/api"
	"async-image-tools/internal/backoff"
	"async-image-tools/internal/callback"
	"async-image-tools/internal/config"
	"async-image-tools/internal/ratelimit"
	"async-image-tools/internal/storage"
	"async-image-tools/internal/telemetry"
	"async-image-tools/internal/transform"
	"async-image-tools/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger := newLogger(cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		<-ch
		cancel()
	}()

	// Storage is optional at boot: handlers reject jobs that need it when the
	// COS env vars are absent, so a b64-only deployment still starts.
	var store storage.ObjectStore
	if cfg.RequireStorage() == nil {
		s3, err := storage.NewS3Store(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("init object storage")
		}
		store = s3
	} else {
		logger.Warn().Msg("object storage not configured, URL and batch jobs will be rejected")
	}

	editor := transform.NewOpenAIEditor(transform.OpenAIOptions{
		APIKey:       cfg.OpenAIAPIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		Model:        cfg.OpenAIImageModel,
		Quality:      cfg.OpenAIImageQuality,
		OutputFormat: cfg.OpenAIOutputFormat,
	}, logger)

	dispatcher := callback.New(callback.Options{
		Timeout:      cfg.CallbackTimeout,
		MaxRetries:   cfg.CallbackMaxRetries,
		Backoff:      backoff.Parse(cfg.CallbackBackoff),
		RewriteLocal: cfg.EnableCallbackRewrite,
		TunnelNetloc: cfg.LocalTunnelNetloc,
	}, logger)

	runner := worker.New(ctx, cfg, store, editor, dispatcher, worker.NewGate(cfg.MaxConcurrentJobs), logger)

	var limiter *ratelimit.TokenBucket
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	server := api.New(cfg, runner, limiter, logger)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: telemetry.Handler()}
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics listener")
		}
	}()

	logger.Info().
		Str("port", cfg.HTTPPort).
		Str("env", cfg.Env).
		Int("max_concurrent_jobs", cfg.MaxConcurrentJobs).
		Msg("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	// Job goroutines observe the cancelled context and wind down; none are
	// left mid-write when the process exits.
	runner.Wait()
}

func newLogger(env string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "dev" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}
