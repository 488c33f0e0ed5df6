// Package clickhouse is the pipeline's analytical sink: enriched events are
// appended here (in addition to being produced to the bus) so downstream
// querying never depends on replaying the bus. Grounded on teacher's
// internal/repository/clickhouse/{client,repository}.go.
package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
)

type Client struct {
	connection driver.Conn
	log        *zap.Logger
}

func NewClient(ctx context.Context, cfg config.ClickHouseConfig, log *zap.Logger) (*Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	log.Info("connecting to clickhouse",
		zap.String("host", cfg.Host), zap.String("port", cfg.Port),
		zap.String("database", cfg.Database), zap.Bool("use_tls", cfg.UseTLS))

	var tlsConfig *tls.Config
	if cfg.UseTLS {
		tlsConfig = &tls.Config{InsecureSkipVerify: false}
	}

	connection, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		TLS:              tlsConfig,
		DialTimeout:      5 * time.Second,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxIdleConns,
		ConnMaxLifetime:  time.Duration(cfg.ConnMaxLifetime) * time.Second,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		BlockBufferSize:  10,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	if err := connection.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	log.Info("clickhouse connection established")
	return &Client{connection: connection, log: log}, nil
}

func (c *Client) Conn() driver.Conn { return c.connection }

func (c *Client) Close() error {
	if err := c.connection.Close(); err != nil {
		c.log.Error("error closing clickhouse connection", zap.Error(err))
		return err
	}
	return nil
}
