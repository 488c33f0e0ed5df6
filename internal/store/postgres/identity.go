package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/identity"
)

// pgSerializationFailure / pgDeadlockDetected are the Postgres SQLSTATE
// codes for a transaction that must be retried by the caller.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// WithIdentityTx opens one transaction and locks every participating
// distinct-id's existing mapping row in the caller-supplied sorted order,
// so concurrent merges touching overlapping distinct-ids serialize
// deterministically instead of deadlocking. Person rows are locked later,
// as GetPerson reads them.
func (s *Store) WithIdentityTx(ctx context.Context, teamID int64, sortedDistinctIDs []string, fn func(ctx context.Context, tx identity.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin identity tx: %w", err)
	}
	defer pgTx.Rollback(ctx)

	// Acquire advisory-style ordering by locking existing mapping rows up
	// front, sorted, before any mutation.
	for _, did := range sortedDistinctIDs {
		_, _ = pgTx.Exec(ctx, `SELECT person_id FROM person_distinct_id
			WHERE team_id = $1 AND distinct_id = $2 FOR UPDATE`, teamID, did)
	}

	txWrapper := &identityTx{ctx: ctx, tx: pgTx, teamID: teamID}
	if err := fn(ctx, txWrapper); err != nil {
		return wrapConflict(err)
	}

	if err := pgTx.Commit(ctx); err != nil {
		return wrapConflict(err)
	}
	return nil
}

func wrapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return fmt.Errorf("%w: %v", identity.ErrSerializationFailure, err)
	}
	return err
}

type identityTx struct {
	ctx    context.Context
	tx     pgx.Tx
	teamID int64
}

func (t *identityTx) GetOrCreateMapping(ctx context.Context, teamID int64, distinctID string) (int64, bool, error) {
	var personID int64
	err := t.tx.QueryRow(ctx, `SELECT person_id FROM person_distinct_id
		WHERE team_id = $1 AND distinct_id = $2`, teamID, distinctID).Scan(&personID)
	if err == nil {
		return personID, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	newUUID := identity.NewPersonUUID()
	err = t.tx.QueryRow(ctx, `INSERT INTO person (uuid, team_id, properties, is_identified, version)
		VALUES ($1, $2, '{}', FALSE, 0) RETURNING id`, newUUID, teamID).Scan(&personID)
	if err != nil {
		return 0, false, fmt.Errorf("create person: %w", err)
	}

	_, err = t.tx.Exec(ctx, `INSERT INTO person_distinct_id (team_id, distinct_id, person_id, version)
		VALUES ($1, $2, $3, 0)`, teamID, distinctID, personID)
	if err != nil {
		return 0, false, fmt.Errorf("insert mapping: %w", err)
	}

	return personID, true, nil
}

func (t *identityTx) GetPerson(ctx context.Context, personID int64) (*domain.Person, error) {
	var p domain.Person
	var propsRaw []byte
	err := t.tx.QueryRow(ctx, `SELECT id, uuid, team_id, created_at, properties, is_identified,
		is_user_id, version, force_upgrade FROM person WHERE id = $1 FOR UPDATE`, personID).
		Scan(&p.ID, &p.UUID, &p.TeamID, &p.CreatedAt, &propsRaw, &p.IsIdentified, &p.IsUserID, &p.Version, &p.ForceUpgrade)
	if err != nil {
		return nil, fmt.Errorf("get person %d: %w", personID, err)
	}
	if err := json.Unmarshal(propsRaw, &p.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal person properties: %w", err)
	}
	return &p, nil
}

func (t *identityTx) SavePerson(ctx context.Context, p *domain.Person) error {
	propsRaw, err := json.Marshal(p.Properties)
	if err != nil {
		return fmt.Errorf("marshal person properties: %w", err)
	}
	_, err = t.tx.Exec(ctx, `UPDATE person SET properties = $1, is_identified = $2,
		created_at = $3, version = $4, force_upgrade = $5 WHERE id = $6`,
		propsRaw, p.IsIdentified, p.CreatedAt, p.Version, p.ForceUpgrade, p.ID)
	if err != nil {
		return fmt.Errorf("save person %d: %w", p.ID, err)
	}
	return nil
}

func (t *identityTx) ReassignMapping(ctx context.Context, teamID int64, distinctID string, newPersonID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE person_distinct_id SET person_id = $1, version = version + 1
		WHERE team_id = $2 AND distinct_id = $3`, newPersonID, teamID, distinctID)
	if err != nil {
		return fmt.Errorf("reassign mapping %q: %w", distinctID, err)
	}
	return nil
}

func (t *identityTx) ListDistinctIDsForPerson(ctx context.Context, teamID, personID int64) ([]string, error) {
	rows, err := t.tx.Query(ctx, `SELECT distinct_id FROM person_distinct_id
		WHERE team_id = $1 AND person_id = $2`, teamID, personID)
	if err != nil {
		return nil, fmt.Errorf("list distinct ids for person %d: %w", personID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *identityTx) DeletePerson(ctx context.Context, personID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM person WHERE id = $1`, personID)
	if err != nil {
		return fmt.Errorf("delete person %d: %w", personID, err)
	}
	return nil
}
