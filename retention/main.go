package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/trend-affiliate-report/internal/config"
	"github.com/DeafMist/trend-affiliate-report/internal/elasticsearch"
	"github.com/DeafMist/trend-affiliate-report/internal/logger"
)

const (
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
	pingTimeout       = 5 * time.Second
	pruneTimeout      = 2 * time.Minute
)

func main() {
	_ = godotenv.Load()

	log, closer := logger.New("retention", "")
	defer closer.Close()

	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := connect(ctx, log, cfg)
	if err != nil {
		log.Error("failed to connect to elasticsearch after retries", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch", slog.String("index", cfg.ElasticsearchIndex))

	pruneCtx, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()

	deleted, err := esClient.DeleteOlderThan(pruneCtx, cfg.MaxAge, cfg.BatchSize)
	if err != nil {
		log.Error("retention run failed", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("retention run completed",
		slog.Int64("deleted", deleted),
		slog.Duration("max_age", cfg.MaxAge),
	)
}

// connect retries client creation and ping with exponential backoff capped at maxRetryDelay.
func connect(ctx context.Context, log *slog.Logger, cfg *config.Retention) (*elasticsearch.Client, error) {
	delay := initialRetryDelay
	var lastErr error

	for i := 0; i < cfg.ConnectRetries; i++ {
		esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			err = esClient.Ping(pingCtx)
			cancel()
			if err == nil {
				return esClient, nil
			}
		}
		lastErr = err
		if i == cfg.ConnectRetries-1 {
			break
		}

		log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", i+1),
			slog.Int("max_retries", cfg.ConnectRetries),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay = min(delay*2, maxRetryDelay)
	}
	return nil, lastErr
}
