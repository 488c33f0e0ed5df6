package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/ai"
	"github.com/Demonslyr/posthog/internal/assemble"
	"github.com/Demonslyr/posthog/internal/bus/kafka"
	"github.com/Demonslyr/posthog/internal/cache/redis"
	"github.com/Demonslyr/posthog/internal/config"
	"github.com/Demonslyr/posthog/internal/dlq"
	"github.com/Demonslyr/posthog/internal/group"
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

	log.Info("starting ingestion consumer", zap.String("environment", cfg.ServiceEnvironment))

	ctx := context.Background()

	pgStore, err := postgres.New(ctx, cfg.Postgres(), log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pgStore.Close()
	if err := pgStore.InitSchema(ctx); err != nil {
		log.Fatal("failed to initialize postgres schema", zap.Error(err))
	}

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
	if err := chRepo.InitSchema(ctx); err != nil {
		log.Fatal("failed to initialize clickhouse schema", zap.Error(err))
	}

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
	busConsumer := kafka.NewConsumer(kafkaCfg, cfg.Consumer(), runner, dlqSink, log)
	defer func() {
		if err := busConsumer.Close(); err != nil {
			log.Error("failed to close kafka consumer", zap.Error(err))
		}
	}()

	go serveHealth(cfg.ConsumerHealthCheckPort, pgStore, log)

	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log.Info("consumer starting")

	runErr := make(chan error, 1)
	go func() {
		runErr <- busConsumer.Start(consumerCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-runErr:
		if err != nil {
			log.Fatal("consumer stopped with fatal error", zap.Error(err))
		}
	case <-sigChan:
		log.Info("shutting down consumer gracefully")
		cancel()
		<-runErr
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func serveHealth(port string, store pinger, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			log.Warn("health check failed", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	addr := ":" + port
	log.Info("health check server starting", zap.String("address", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("health check server error", zap.Error(err))
	}
}
