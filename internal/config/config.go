package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config is the pipeline's flat, env-bound configuration surface. Each
// field's env key is given by its envconfig tag.
type Config struct {
	ServiceEnvironment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	ServiceAPIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
	ServiceHost        string `envconfig:"SERVICE_HOST" default:"localhost:8080"`

	// Kafka message bus
	KafkaBrokers           []string `envconfig:"KAFKA_BROKERS" required:"true"`
	ConsumerTopic          string   `envconfig:"CONSUMER_TOPIC" required:"true"`
	ConsumerGroupID        string   `envconfig:"CONSUMER_GROUP_ID" required:"true"`
	EnrichedEventsTopic    string   `envconfig:"ENRICHED_EVENTS_TOPIC" required:"true"`
	IngestionWarningsTopic string   `envconfig:"INGESTION_WARNINGS_TOPIC" required:"true"`
	HeatmapsTopic          string   `envconfig:"HEATMAPS_TOPIC" required:"true"`
	ExceptionsTopic        string   `envconfig:"EXCEPTIONS_TOPIC" required:"true"`

	// DLQ (SQS), repurposed from the teacher's sole message bus
	SQSEndpoint string `envconfig:"SQS_ENDPOINT"`
	SQSQueueURL string `envconfig:"SQS_DLQ_QUEUE_URL" required:"true"`
	SQSRegion   string `envconfig:"SQS_REGION" required:"true"`

	// Relational store (Postgres)
	PostgresDSN      string `envconfig:"POSTGRES_DSN" required:"true"`
	PostgresMaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" default:"10"`

	// Analytical store (ClickHouse)
	ClickHouseHost               string `envconfig:"CLICKHOUSE_HOST" required:"true"`
	ClickHousePort               string `envconfig:"CLICKHOUSE_PORT" required:"true"`
	ClickHouseDB                 string `envconfig:"CLICKHOUSE_DB" required:"true"`
	ClickHouseUser               string `envconfig:"CLICKHOUSE_USER" default:""`
	ClickHousePassword           string `envconfig:"CLICKHOUSE_PASSWORD" default:""`
	ClickHouseMaxOpenConns       int    `envconfig:"CLICKHOUSE_MAX_OPEN_CONNS" default:"5"`
	ClickHouseMaxIdleConns       int    `envconfig:"CLICKHOUSE_MAX_IDLE_CONNS" default:"2"`
	ClickHouseConnMaxLifetimeSec int    `envconfig:"CLICKHOUSE_CONN_MAX_LIFETIME_SEC" default:"3600"`

	// Redis / idempotency cache (wiring the teacher's previously-unused
	// Valkey fields into a real implementation)
	ValkeyHost                 string `envconfig:"VALKEY_HOST" required:"true"`
	ValkeyPort                 string `envconfig:"VALKEY_PORT" required:"true"`
	ValkeyIdempotencyEnabled   bool   `envconfig:"VALKEY_IDEMPOTENCY_ENABLED" default:"true"`
	ValkeyIdempotencyFailOpen  bool   `envconfig:"VALKEY_IDEMPOTENCY_FAIL_OPEN" default:"true"`
	ValkeyIdempotencyTTLSec    int    `envconfig:"VALKEY_IDEMPOTENCY_TTL_SEC" default:"86400"`

	// Consumer batching / drain behavior
	ConsumerBatchSizeMin    int    `envconfig:"CONSUMER_BATCH_SIZE_MIN" default:"100"`
	ConsumerBatchSizeMax    int    `envconfig:"CONSUMER_BATCH_SIZE_MAX" default:"2000"`
	ConsumerBatchTimeoutSec int    `envconfig:"CONSUMER_BATCH_TIMEOUT_SEC" default:"10"`
	ConsumerHealthCheckPort string `envconfig:"CONSUMER_HEALTH_CHECK_PORT" default:"8081"`
	DrainTimeoutMS          int    `envconfig:"DRAIN_TIMEOUT_MS" default:"30000"`

	// ConsumerMaxRetryAttempts bounds how many times a message that
	// resolves Retry is left uncommitted for redelivery before the
	// batch-commit stage routes it to the DLQ instead (spec.md §4.1: "repeated
	// failure after N attempts routes the offending message to a DLQ topic").
	ConsumerMaxRetryAttempts int `envconfig:"CONSUMER_MAX_RETRY_ATTEMPTS" default:"5"`

	// Pipeline behavior
	PersonResolutionRetryMax   int `envconfig:"PERSON_RESOLUTION_RETRY_MAX" default:"5"`
	TeamCacheTTLMS             int `envconfig:"TEAM_CACHE_TTL_MS" default:"120000"`
	MaxGroupTypesPerTeam       int `envconfig:"MAX_GROUP_TYPES_PER_TEAM" default:"5"`
	TimestampFutureToleranceMS int `envconfig:"TIMESTAMP_FUTURE_TOLERANCE_MS" default:"86400000"`

	// PersonsProcessingSkipTokens is a map of token -> list of distinct-ids
	// for which person processing is force-disabled, expressed as
	// semicolon-separated "token:id1,id2" groups and parsed by
	// PersonsProcessingSkipTokens.
	PersonsProcessingSkipTokensRaw string `envconfig:"PERSONS_PROCESSING_SKIP_TOKENS" default:""`
}

// PersonsProcessingSkipTokens parses the raw "token:id1,id2;token2:id3" form
// of PersonsProcessingSkipTokensRaw into a token -> distinct-id-set map.
func (c *Config) PersonsProcessingSkipTokens() map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	if c.PersonsProcessingSkipTokensRaw == "" {
		return out
	}
	for _, group := range splitNonEmpty(c.PersonsProcessingSkipTokensRaw, ";") {
		parts := splitN(group, ":", 2)
		if len(parts) != 2 {
			continue
		}
		token := parts[0]
		ids := make(map[string]bool)
		for _, id := range splitNonEmpty(parts[1], ",") {
			ids[id] = true
		}
		out[token] = ids
	}
	return out
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
