package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

// Repository appends enriched events to ClickHouse as a secondary,
// queryable sink alongside the bus producer. Generalized from teacher's
// internal/repository/clickhouse/repository.go's flat domain.Event schema
// to domain.EnrichedEvent.
type Repository struct {
	client *Client
	log    *zap.Logger
}

func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{client: client, log: log}
}

// InitSchema creates the enriched_events table with a ReplacingMergeTree
// engine keyed on a monotonic version, so a redelivered (at-least-once)
// event collapses to its latest write under FINAL reads rather than
// double-counting.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS enriched_events (
		uuid String,
		event LowCardinality(String),
		properties String,
		timestamp DateTime64(3),
		team_id Int64,
		project_id Int64,
		distinct_id String,
		elements_chain String,
		created_at DateTime64(3) DEFAULT now64(3),
		person_id String,
		person_properties String,
		person_created_at DateTime64(3),
		person_mode LowCardinality(String),
		version UInt64
	) ENGINE = ReplacingMergeTree(version)
	PRIMARY KEY (team_id, uuid)
	ORDER BY (team_id, uuid, timestamp)
	PARTITION BY toYYYYMM(timestamp)
	SETTINGS index_granularity = 8192
	`
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("create enriched_events table: %w", err)
	}
	r.log.Info("clickhouse schema initialized")
	return nil
}

// InsertBatch appends a batch of enriched events. Each event's version is
// its wall-clock write time, so the latest write always wins under FINAL.
func (r *Repository) InsertBatch(ctx context.Context, events []*domain.EnrichedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO enriched_events")
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	inserted := 0
	for _, ev := range events {
		err := batch.Append(
			ev.UUID,
			ev.Event,
			ev.PropertiesJSON,
			ev.Timestamp,
			ev.TeamID,
			ev.ProjectID,
			ev.DistinctID,
			ev.ElementsChain,
			ev.CreatedAt,
			ev.PersonID,
			ev.PersonPropertiesJSON,
			ev.PersonCreatedAt,
			string(ev.PersonMode),
			uint64(time.Now().UnixNano()),
		)
		if err != nil {
			return 0, fmt.Errorf("append event to batch: %w", err)
		}
		inserted++
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send batch: %w", err)
	}
	return inserted, nil
}

// CountByTeamSince powers the admin /pipeline/stats endpoint's per-team
// produced-event count (spec.md SUPPLEMENTED FEATURES).
func (r *Repository) CountByTeamSince(ctx context.Context, teamID int64, since time.Time) (uint64, error) {
	row := r.client.Conn().QueryRow(ctx,
		`SELECT count() FROM enriched_events FINAL WHERE team_id = ? AND timestamp >= ?`,
		teamID, since)
	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count enriched events: %w", err)
	}
	return count, nil
}

func (r *Repository) Ping(ctx context.Context) error { return r.client.Conn().Ping(ctx) }
func (r *Repository) Close() error                   { return r.client.Close() }
