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

	eventpg "stitchd/internal/event/store/postgres"
	identitypg "stitchd/internal/identity/store/postgres"
	"stitchd/internal/pipeline"
	"stitchd/internal/placement"
	"stitchd/internal/placement/cache"
	placementpg "stitchd/internal/placement/store/postgres"
	"stitchd/internal/platform/config"
	"stitchd/internal/platform/httpserver"
	"stitchd/internal/platform/kafka"
	"stitchd/internal/platform/logger"
	"stitchd/internal/platform/metrics"
	"stitchd/internal/platform/postgres"
	"stitchd/internal/platform/redis"
	"stitchd/internal/registry"
	"stitchd/internal/stitch"
)

// main wires high-level dependencies and keeps the process lifecycle
// small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("stitchd exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	m := metrics.New()

	stitcher, err := stitch.New(identitypg.New(db),
		stitch.WithLogger(log),
		stitch.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	eventStore := eventpg.New(db)

	var scores placement.ScoreStore = placementpg.New(db)
	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		scores = cache.New(scores, rdb.Client, cfg.Redis.ScoreTTL, cache.WithLogger(log))
	}

	calc, err := placement.NewCalculator(scores, eventStore, placement.WithLogger(log))
	if err != nil {
		return err
	}

	publisher, err := registry.New(cfg.Registry.BaseURL, cfg.Registry.SigningKey,
		registry.WithLogger(log),
	)
	if err != nil {
		return err
	}

	pipe, err := pipeline.New(stitcher, eventStore, calc, publisher,
		pipeline.WithLogger(log),
		pipeline.WithMetrics(m),
		pipeline.WithWorkers(cfg.Workers),
	)
	if err != nil {
		return err
	}

	if err := kafka.EnsureTopic(ctx, cfg.Kafka, 3); err != nil {
		log.Warn("topic bootstrap failed, assuming it exists", "error", err)
	}
	consumer, err := kafka.NewConsumer(cfg.Kafka, kafka.WithLogger(log))
	if err != nil {
		return err
	}
	defer consumer.Close()

	checks := []httpserver.HealthCheck{
		{Name: "postgres", Check: db.PingContext},
	}
	if rdb != nil {
		checks = append(checks, httpserver.HealthCheck{Name: "redis", Check: rdb.Health})
	}
	ops := httpserver.New(cfg.Ops.Addr, httpserver.NewOpsRouter(checks...))

	go func() {
		log.Info("ops server listening", "addr", cfg.Ops.Addr)
		if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server failed", "error", err)
		}
	}()

	consumeErr := make(chan error, 1)
	go func() {
		log.Info("consuming tracking events",
			"topic", cfg.Kafka.Topic,
			"group", cfg.Kafka.GroupID,
		)
		consumeErr <- consumer.Run(ctx, func(ctx context.Context, records [][]byte) error {
			processed, err := pipe.Process(ctx, records)
			if err != nil {
				return err
			}
			log.Debug("batch processed", "records", len(records), "completed", processed)
			return nil
		})
	}()

	select {
	case <-ctx.Done():
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ops.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	return nil
}
