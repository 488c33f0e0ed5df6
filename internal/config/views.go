package config

import "time"

// Sub-configuration views handed to individual components' constructors,
// keeping Config itself a single flat envconfig-bound struct (matching the
// teacher's style) while giving each store/client a narrow typed config.

type ClickHouseConfig struct {
	Host            string
	Port            string
	Database        string
	User            string
	Password        string
	UseTLS          bool
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

func (c *Config) ClickHouse() ClickHouseConfig {
	return ClickHouseConfig{
		Host:            c.ClickHouseHost,
		Port:            c.ClickHousePort,
		Database:        c.ClickHouseDB,
		User:            c.ClickHouseUser,
		Password:        c.ClickHousePassword,
		UseTLS:          c.ServiceEnvironment == "production",
		MaxOpenConns:    c.ClickHouseMaxOpenConns,
		MaxIdleConns:    c.ClickHouseMaxIdleConns,
		ConnMaxLifetime: c.ClickHouseConnMaxLifetimeSec,
	}
}

type SQSConfig struct {
	Endpoint string
	QueueURL string
	Region   string
}

func (c *Config) SQS() SQSConfig {
	return SQSConfig{Endpoint: c.SQSEndpoint, QueueURL: c.SQSQueueURL, Region: c.SQSRegion}
}

type KafkaConfig struct {
	Brokers                []string
	ConsumerTopic          string
	ConsumerGroupID        string
	EnrichedEventsTopic    string
	IngestionWarningsTopic string
	HeatmapsTopic          string
	ExceptionsTopic        string
}

func (c *Config) Kafka() KafkaConfig {
	return KafkaConfig{
		Brokers:                c.KafkaBrokers,
		ConsumerTopic:          c.ConsumerTopic,
		ConsumerGroupID:        c.ConsumerGroupID,
		EnrichedEventsTopic:    c.EnrichedEventsTopic,
		IngestionWarningsTopic: c.IngestionWarningsTopic,
		HeatmapsTopic:          c.HeatmapsTopic,
		ExceptionsTopic:        c.ExceptionsTopic,
	}
}

type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

func (c *Config) Postgres() PostgresConfig {
	return PostgresConfig{DSN: c.PostgresDSN, MaxConns: c.PostgresMaxConns}
}

type RedisConfig struct {
	Host             string
	Port             string
	Enabled          bool
	FailOpen         bool
	IdempotencyTTL   time.Duration
}

func (c *Config) Redis() RedisConfig {
	return RedisConfig{
		Host:           c.ValkeyHost,
		Port:           c.ValkeyPort,
		Enabled:        c.ValkeyIdempotencyEnabled,
		FailOpen:       c.ValkeyIdempotencyFailOpen,
		IdempotencyTTL: time.Duration(c.ValkeyIdempotencyTTLSec) * time.Second,
	}
}

type ConsumerConfig struct {
	BatchSizeMin     int
	BatchSizeMax     int
	BatchTimeoutSec  int
	DrainTimeout     time.Duration
	MaxRetryAttempts int
}

func (c *Config) Consumer() ConsumerConfig {
	return ConsumerConfig{
		BatchSizeMin:     c.ConsumerBatchSizeMin,
		BatchSizeMax:     c.ConsumerBatchSizeMax,
		BatchTimeoutSec:  c.ConsumerBatchTimeoutSec,
		DrainTimeout:     time.Duration(c.DrainTimeoutMS) * time.Millisecond,
		MaxRetryAttempts: c.ConsumerMaxRetryAttempts,
	}
}
