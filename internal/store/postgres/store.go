// Package postgres is the relational store backing Team, Person,
// DistinctIDMapping, Group and GroupTypeMapping, grounded on
// PratikDhanave-event-analytics-service's internal/store/postgres.go
// embed-schema pattern.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/config"
	"github.com/Demonslyr/posthog/internal/domain"
)

//go:embed schema.sql
var schema string

// Store wraps a pgx connection pool and implements every store interface
// the pipeline's components need (teamresolver.Store, identity.Store,
// group.Store).
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, cfg config.PostgresConfig, log *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Info("postgres connection established")
	return &Store{pool: pool, log: log}, nil
}

// InitSchema creates every table the pipeline needs if absent.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) TeamByID(ctx context.Context, id int64) (*domain.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, project_id, api_token, anonymize_ips, heatmaps_opt_in,
		person_processing_opt_out, ingested_event FROM team WHERE id = $1`, id)
	return scanTeam(row)
}

func (s *Store) TeamByToken(ctx context.Context, token string) (*domain.Team, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, project_id, api_token, anonymize_ips, heatmaps_opt_in,
		person_processing_opt_out, ingested_event FROM team WHERE api_token = $1`, token)
	return scanTeam(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*domain.Team, error) {
	var t domain.Team
	err := row.Scan(&t.ID, &t.ProjectID, &t.APIToken, &t.AnonymizeIPs, &t.HeatmapsOptIn,
		&t.PersonProcessingOptOut, &t.IngestedEvent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}
