package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/docs"
	"github.com/Demonslyr/posthog/internal/ai"
	"github.com/Demonslyr/posthog/internal/assemble"
	"github.com/Demonslyr/posthog/internal/bus/kafka"
	"github.com/Demonslyr/posthog/internal/cache/redis"
	"github.com/Demonslyr/posthog/internal/config"
	"github.com/Demonslyr/posthog/internal/dlq"
	"github.com/Demonslyr/posthog/internal/group"
	"github.com/Demonslyr/posthog/internal/handler"
	"github.com/Demonslyr/posthog/internal/heatmap"
	"github.com/Demonslyr/posthog/internal/identity"
	"github.com/Demonslyr/posthog/internal/logger"
	"github.com/Demonslyr/posthog/internal/normalize"
	"github.com/Demonslyr/posthog/internal/pipeline"
	"github.com/Demonslyr/posthog/internal/sink"
	clickhousestore "github.com/Demonslyr/posthog/internal/store/clickhouse"
	"github.com/Demonslyr/posthog/internal/store/postgres"
	"github.com/Demonslyr/posthog/internal/teamresolver"
	"github.com/Demonslyr/posthog/internal/transform"
)

// @title Event Ingestion Pipeline Admin API
// @version 1.0
// @description Health, readiness, throughput stats and DLQ redrive for the event ingestion pipeline.
// @host localhost:8080
// @BasePath /
// @schemes http https
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.ServiceEnvironment)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		if err := log.Sync(); err != nil {
			log.Error("failed to sync logger", zap.Error(err))
		}
	}()

	log.Info("starting admin API", zap.String("environment", cfg.ServiceEnvironment), zap.String("port", cfg.ServiceAPIPort))

	docs.SwaggerInfo.Host = cfg.ServiceHost

	ctx := context.Background()

	pgStore, err := postgres.New(ctx, cfg.Postgres(), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()

	chClient, err := clickhousestore.NewClient(ctx, cfg.ClickHouse(), log)
	if err != nil {
		log.Fatal("failed to connect to clickhouse", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("failed to close clickhouse client", zap.Error(err))
		}
	}()
	chRepo := clickhousestore.NewRepository(chClient, log)

	dlqSink, err := dlq.New(ctx, cfg.SQS(), log)
	if err != nil {
		log.Fatal("failed to create dlq sink", zap.Error(err))
	}

	idempotency := redis.New(cfg.Redis(), log)
	defer func() {
		if err := idempotency.Close(); err != nil {
			log.Error("failed to close idempotency cache", zap.Error(err))
		}
	}()

	kafkaCfg := cfg.Kafka()
	busProducer := kafka.NewProducer(kafkaCfg, log)
	defer func() {
		if err := busProducer.Close(); err != nil {
			log.Error("failed to close kafka producer", zap.Error(err))
		}
	}()
	producer := sink.NewFanout(busProducer, chRepo, log)

	// The redrive path re-runs dead-lettered raw payloads through the same
	// pipeline the consumer uses, so a replayed event gets identical
	// normalization, enrichment and dedup treatment as a live one.
	hub := &pipeline.Hub{
		Teams:       teamresolver.New(pgStore, time.Duration(cfg.TeamCacheTTLMS)*time.Millisecond, log),
		Normalizer:  normalize.New(time.Duration(cfg.TimestampFutureToleranceMS) * time.Millisecond),
		Transformer: transform.New(log),
		AI:          ai.New(log),
		Identity:    identity.New(pgStore, cfg.PersonResolutionRetryMax, log),
		Groups:      group.New(pgStore, cfg.MaxGroupTypesPerTeam, log),
		Heatmaps:    heatmap.New(log),
		Assembler:   assemble.New(log),
		Producer:    producer,
		Idempotency: idempotency,
		Log:         log,
		SkipTokens:  cfg.PersonsProcessingSkipTokens(),
	}
	runner := pipeline.NewRunner(hub)

	replay := func(ctx context.Context, raw []byte) error {
		result, completions := runner.Run(ctx, raw)
		for _, c := range completions {
			if err := c.Wait(); err != nil {
				return err
			}
		}
		if result.Outcome() == pipeline.Fatal || result.Outcome() == pipeline.Retry {
			return result.Err()
		}
		return nil
	}

	h := handler.NewHandler(pgStore, chRepo, dlqSink, replay, log)

	addr := fmt.Sprintf(":%s", cfg.ServiceAPIPort)
	log.Info("admin API server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("failed to start admin API server", zap.Error(err))
	}
}
