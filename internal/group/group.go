// Package group implements the pipeline's GroupEngine: resolving
// group-type indices and upserting group rows on $groupidentify.
package group

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

// Store is the narrow persistence contract GroupEngine needs.
type Store interface {
	// ResolveOrAssignGroupTypeIndex returns the stable index for
	// groupTypeName under teamID, creating the mapping if the team is
	// under the cap. ok=false means "no index" (cap exceeded).
	ResolveOrAssignGroupTypeIndex(ctx context.Context, teamID int64, groupTypeName string, cap int) (index int, ok bool, err error)

	// UpsertGroup applies $group_set (overwrite) and $group_set_once
	// (fill) to the group row and bumps its version, creating the row
	// (with version 1) if absent.
	UpsertGroup(ctx context.Context, teamID int64, groupTypeIndex int, groupKey string, set, setOnce map[string]any) (*domain.Group, error)
}

type Engine struct {
	store  Store
	cap    int
	log    *zap.Logger
}

func New(store Store, maxGroupTypesPerTeam int, log *zap.Logger) *Engine {
	return &Engine{store: store, cap: maxGroupTypesPerTeam, log: log}
}

// Apply reads $groups from properties, resolving each named group type to
// its index and setting $group_<index> on the event; then, if the event is
// $groupidentify, upserts the named group's properties. Skipped entirely
// by the caller when person processing is disabled.
func (e *Engine) Apply(ctx context.Context, ev *domain.PipelineEvent) error {
	groups, _ := ev.Properties["$groups"].(map[string]any)
	for groupTypeName, keyVal := range groups {
		groupKey, ok := keyVal.(string)
		if !ok {
			continue
		}
		index, resolved, err := e.store.ResolveOrAssignGroupTypeIndex(ctx, ev.TeamID, groupTypeName, e.cap)
		if err != nil {
			return fmt.Errorf("resolve group type %q: %w", groupTypeName, err)
		}
		if !resolved {
			e.log.Warn("group type cap exceeded, no index assigned",
				zap.Int64("team_id", ev.TeamID), zap.String("group_type", groupTypeName))
			continue
		}
		ev.Properties[fmt.Sprintf("$group_%d", index)] = groupKey
	}

	if ev.Event != "$groupidentify" {
		return nil
	}

	groupType, _ := ev.Properties["$group_type"].(string)
	groupKey, _ := ev.Properties["$group_key"].(string)
	if groupType == "" || groupKey == "" {
		return nil
	}

	index, resolved, err := e.store.ResolveOrAssignGroupTypeIndex(ctx, ev.TeamID, groupType, e.cap)
	if err != nil {
		return fmt.Errorf("resolve group type %q for groupidentify: %w", groupType, err)
	}
	if !resolved {
		return nil
	}

	set, _ := ev.Properties["$group_set"].(map[string]any)
	setOnce, _ := ev.Properties["$group_set_once"].(map[string]any)

	if _, err := e.store.UpsertGroup(ctx, ev.TeamID, index, groupKey, set, setOnce); err != nil {
		return fmt.Errorf("upsert group %q/%q: %w", groupType, groupKey, err)
	}
	return nil
}
