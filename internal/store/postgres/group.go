package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Demonslyr/posthog/internal/domain"
)

// ResolveOrAssignGroupTypeIndex resolves groupTypeName's index for teamID,
// creating the mapping in one transaction if the team's registered type
// count is still under cap. No explicit lock is taken; the table's unique
// constraints reject a concurrent duplicate assignment. Returns ok=false
// once the cap is reached and groupTypeName has no existing mapping.
func (s *Store) ResolveOrAssignGroupTypeIndex(ctx context.Context, teamID int64, groupTypeName string, cap int) (int, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("begin group type tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var index int
	err = tx.QueryRow(ctx, `SELECT group_type_index FROM group_type_mapping
		WHERE team_id = $1 AND group_type_name = $2`, teamID, groupTypeName).Scan(&index)
	if err == nil {
		return index, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM group_type_mapping WHERE team_id = $1`, teamID).Scan(&count); err != nil {
		return 0, false, fmt.Errorf("count group types: %w", err)
	}
	if count >= cap {
		return 0, false, nil
	}

	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(group_type_index), -1) + 1 FROM group_type_mapping WHERE team_id = $1`, teamID).Scan(&index); err != nil {
		return 0, false, fmt.Errorf("compute next group type index: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO group_type_mapping (team_id, group_type_name, group_type_index)
		VALUES ($1, $2, $3)`, teamID, groupTypeName, index); err != nil {
		return 0, false, fmt.Errorf("insert group type mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit group type tx: %w", err)
	}
	return index, true, nil
}

// UpsertGroup applies $group_set (overwrite) and $group_set_once (fill) to
// the named group's properties, creating the row on first sight.
func (s *Store) UpsertGroup(ctx context.Context, teamID int64, groupTypeIndex int, groupKey string, set, setOnce map[string]any) (*domain.Group, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin group upsert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var g domain.Group
	var propsRaw []byte
	err = tx.QueryRow(ctx, `SELECT team_id, group_type_index, group_key, properties, created_at, version
		FROM "group" WHERE team_id = $1 AND group_type_index = $2 AND group_key = $3 FOR UPDATE`,
		teamID, groupTypeIndex, groupKey).Scan(&g.TeamID, &g.GroupTypeIndex, &g.GroupKey, &propsRaw, &g.CreatedAt, &g.Version)

	if errors.Is(err, pgx.ErrNoRows) {
		g = domain.Group{TeamID: teamID, GroupTypeIndex: groupTypeIndex, GroupKey: groupKey, Properties: map[string]any{}}
	} else if err != nil {
		return nil, fmt.Errorf("load group: %w", err)
	} else if err := json.Unmarshal(propsRaw, &g.Properties); err != nil {
		return nil, fmt.Errorf("unmarshal group properties: %w", err)
	}

	if g.Properties == nil {
		g.Properties = map[string]any{}
	}
	for k, v := range set {
		g.Properties[k] = v
	}
	for k, v := range setOnce {
		if _, exists := g.Properties[k]; !exists {
			g.Properties[k] = v
		}
	}
	g.Version++

	newProps, err := json.Marshal(g.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal group properties: %w", err)
	}

	_, err = tx.Exec(ctx, `INSERT INTO "group" (team_id, group_type_index, group_key, properties, version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (team_id, group_type_index, group_key)
		DO UPDATE SET properties = $4, version = $5`,
		teamID, groupTypeIndex, groupKey, newProps, g.Version)
	if err != nil {
		return nil, fmt.Errorf("upsert group: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit group upsert tx: %w", err)
	}
	return &g, nil
}
