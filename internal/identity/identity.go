// Package identity implements the pipeline's IdentityEngine (PersonState):
// distinct-id -> person resolution, $set/$set_once/$unset property
// mutation, $identify/$create_alias linking, and $merge_dangerously,
// guaranteeing the invariants in spec.md §3.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/metrics"
)

// ErrConflictExhausted is returned when the bounded retry loop around a
// transaction's serialization failures is exhausted.
var ErrConflictExhausted = errors.New("person update conflict: retries exhausted")

type Engine struct {
	store      Store
	log        *zap.Logger
	retryMax   int
	retryDelay time.Duration
}

func New(store Store, retryMax int, log *zap.Logger) *Engine {
	return &Engine{store: store, log: log, retryMax: retryMax, retryDelay: 5 * time.Millisecond}
}

// Outcome is the result of processing one event's identity operations.
type Outcome struct {
	Person       *domain.Person
	ForceUpgrade bool
}

// Process resolves distinct_id (and any secondary distinct-id an
// identify/alias/merge operation names) to a single current person,
// applies $set/$set_once/$unset, performs merges, and returns the
// resulting person snapshot for EventAssembler to use.
func (e *Engine) Process(ctx context.Context, ev *domain.PipelineEvent) (*Outcome, error) {
	distinctIDs := participatingDistinctIDs(ev)
	sort.Strings(distinctIDs)

	var outcome *Outcome
	var lastErr error

	for attempt := 0; attempt <= e.retryMax; attempt++ {
		err := e.store.WithIdentityTx(ctx, ev.TeamID, distinctIDs, func(ctx context.Context, tx Tx) error {
			out, txErr := e.processTx(ctx, tx, ev, distinctIDs)
			if txErr != nil {
				return txErr
			}
			outcome = out
			return nil
		})
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !isSerializationFailure(err) {
			return nil, err
		}
		metrics.EventsRetried.WithLabelValues("identity").Inc()
		time.Sleep(e.retryDelay * time.Duration(attempt+1))
	}

	return nil, fmt.Errorf("%w: %v", ErrConflictExhausted, lastErr)
}

func (e *Engine) processTx(ctx context.Context, tx Tx, ev *domain.PipelineEvent, distinctIDs []string) (*Outcome, error) {
	primaryID, _, err := tx.GetOrCreateMapping(ctx, ev.TeamID, ev.DistinctID)
	if err != nil {
		return nil, fmt.Errorf("resolve primary distinct id: %w", err)
	}

	secondary := secondaryDistinctID(ev)
	survivorID := primaryID
	if secondary != "" && secondary != ev.DistinctID {
		secondaryID, _, err := tx.GetOrCreateMapping(ctx, ev.TeamID, secondary)
		if err != nil {
			return nil, fmt.Errorf("resolve secondary distinct id: %w", err)
		}
		if secondaryID != primaryID {
			survivorID, err = e.merge(ctx, tx, ev.TeamID, primaryID, secondaryID)
			if err != nil {
				return nil, err
			}
		}
	}

	person, err := tx.GetPerson(ctx, survivorID)
	if err != nil {
		return nil, fmt.Errorf("load survivor person: %w", err)
	}

	if person.ForceUpgrade {
		return &Outcome{Person: person, ForceUpgrade: true}, nil
	}

	set, setOnce, unset := propertyOps(ev)
	if isIdentifyLike(ev) {
		person.IsIdentified = true
	}
	applyPropertyOps(person, set, setOnce, unset)
	person.Version++

	if err := tx.SavePerson(ctx, person); err != nil {
		return nil, fmt.Errorf("save person: %w", err)
	}

	return &Outcome{Person: person}, nil
}

// merge combines persons idA and idB into a single survivor per the
// spec.md §4.6 merge rule, reassigning every distinct-id mapped to the
// loser. Returns the survivor's person id. A merge where idA == idB is a
// no-op (idempotent repeat of a completed merge).
func (e *Engine) merge(ctx context.Context, tx Tx, teamID, idA, idB int64) (int64, error) {
	if idA == idB {
		return idA, nil
	}

	a, err := tx.GetPerson(ctx, idA)
	if err != nil {
		return 0, fmt.Errorf("load person A for merge: %w", err)
	}
	b, err := tx.GetPerson(ctx, idB)
	if err != nil {
		return 0, fmt.Errorf("load person B for merge: %w", err)
	}

	survivor, loser := chooseSurvivor(a, b)

	loserDistinctIDs, err := tx.ListDistinctIDsForPerson(ctx, teamID, loser.ID)
	if err != nil {
		return 0, fmt.Errorf("list loser distinct ids: %w", err)
	}
	for _, did := range loserDistinctIDs {
		if err := tx.ReassignMapping(ctx, teamID, did, survivor.ID); err != nil {
			return 0, fmt.Errorf("reassign mapping %q: %w", did, err)
		}
	}

	mergeProperties(survivor, loser)
	if loser.CreatedAt.Before(survivor.CreatedAt) {
		survivor.CreatedAt = loser.CreatedAt
	}
	survivor.IsIdentified = true
	survivor.Version++

	if err := tx.SavePerson(ctx, survivor); err != nil {
		return 0, fmt.Errorf("save survivor: %w", err)
	}
	if err := tx.DeletePerson(ctx, loser.ID); err != nil {
		return 0, fmt.Errorf("delete loser: %w", err)
	}

	metrics.PersonMergesTotal.Inc()
	return survivor.ID, nil
}

// chooseSurvivor picks B per spec.md §4.6: greatest is_identified, then
// earliest created_at, then lexicographically smallest uuid.
func chooseSurvivor(a, b *domain.Person) (survivor, loser *domain.Person) {
	if a.IsIdentified != b.IsIdentified {
		if a.IsIdentified {
			return a, b
		}
		return b, a
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return a, b
		}
		return b, a
	}
	if a.UUID < b.UUID {
		return a, b
	}
	return b, a
}

// mergeProperties merges loser's properties into survivor: survivor wins
// on conflict for $set-style overwrite, loser's values fill holes
// (the $set_once semantic applied at merge time).
func mergeProperties(survivor, loser *domain.Person) {
	if survivor.Properties == nil {
		survivor.Properties = map[string]any{}
	}
	for k, v := range loser.Properties {
		if _, exists := survivor.Properties[k]; !exists {
			survivor.Properties[k] = v
		}
	}
}

func participatingDistinctIDs(ev *domain.PipelineEvent) []string {
	ids := map[string]bool{ev.DistinctID: true}
	if sec := secondaryDistinctID(ev); sec != "" {
		ids[sec] = true
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

func secondaryDistinctID(ev *domain.PipelineEvent) string {
	switch ev.Event {
	case "$identify":
		if v, ok := ev.Properties["$anon_distinct_id"].(string); ok {
			return v
		}
	case "$create_alias", "$merge_dangerously":
		if v, ok := ev.Properties["alias"].(string); ok {
			return v
		}
	}
	return ""
}

func isIdentifyLike(ev *domain.PipelineEvent) bool {
	switch ev.Event {
	case "$identify", "$create_alias", "$merge_dangerously":
		return true
	default:
		return false
	}
}

func propertyOps(ev *domain.PipelineEvent) (set, setOnce map[string]any, unset []string) {
	if v, ok := ev.Properties["$set"].(map[string]any); ok {
		set = v
	}
	if v, ok := ev.Properties["$set_once"].(map[string]any); ok {
		setOnce = v
	}
	if v, ok := ev.Properties["$unset"].([]any); ok {
		for _, k := range v {
			if s, ok := k.(string); ok {
				unset = append(unset, s)
			}
		}
	}
	return
}

// applyPropertyOps applies $set (overwrite), $set_once (fill absent keys
// only), then $unset (remove), per spec.md §4.6 step 2.
func applyPropertyOps(p *domain.Person, set, setOnce map[string]any, unset []string) {
	if p.Properties == nil {
		p.Properties = map[string]any{}
	}
	for k, v := range set {
		p.Properties[k] = v
	}
	for k, v := range setOnce {
		if _, exists := p.Properties[k]; !exists {
			p.Properties[k] = v
		}
	}
	for _, k := range unset {
		delete(p.Properties, k)
	}
}

// NewPersonUUID generates the UUID for a newly created person.
func NewPersonUUID() string {
	return uuid.New().String()
}

func isSerializationFailure(err error) bool {
	return errors.Is(err, ErrSerializationFailure)
}

// ErrSerializationFailure is the sentinel the postgres Store wraps
// transaction-abort errors in (serialization failure / deadlock) so the
// engine's bounded retry loop can recognize them regardless of driver
// error type.
var ErrSerializationFailure = errors.New("serialization failure")
