package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/decode"
	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/heatmap"
	"github.com/Demonslyr/posthog/internal/identity"
	"github.com/Demonslyr/posthog/internal/metrics"
)

// ErrMessageSizeTooLarge is the sentinel a Producer's Completion.Wait()
// returns for an oversize payload; Run classifies it without retrying.
var ErrMessageSizeTooLarge = errors.New("message_size_too_large")

// Runner owns the per-event state machine described in spec.md §4.11/4.12.
type Runner struct {
	hub *Hub
}

func NewRunner(hub *Hub) *Runner {
	return &Runner{hub: hub}
}

// Run drives one event from raw bytes through every stage and returns the
// terminal Result plus every pending side-effect Completion the caller
// must await before committing the event's offset.
func (r *Runner) Run(ctx context.Context, raw []byte) (Result, []Completion) {
	ev, err := decode.Decode(raw)
	if err != nil {
		if errors.Is(err, decode.ErrInvalidUUID) {
			return r.dropInvalidUUID(ctx, ev)
		}
		metrics.EventsDropped.WithLabelValues("unknown", string(CauseMalformed)).Inc()
		return DroppedResult(CauseMalformed, map[string]string{"error": err.Error()}), nil
	}

	if r.hub.Idempotency != nil {
		seen, err := r.hub.Idempotency.SeenOrMark(ctx, ev.UUID)
		if err != nil {
			return RetryResult(fmt.Errorf("idempotency check: %w", err)), nil
		}
		if seen {
			metrics.EventsDropped.WithLabelValues(ev.Event, "duplicate_delivery").Inc()
			return ProducedResult(), nil
		}
	}

	team, err := r.resolveTeam(ctx, ev)
	if err != nil {
		return RetryResult(fmt.Errorf("team resolution: %w", err)), nil
	}
	if team == nil {
		metrics.EventsDropped.WithLabelValues(ev.Event, string(CauseInvalidToken)).Inc()
		return DroppedResult(CauseInvalidToken, map[string]string{"uuid": ev.UUID}), nil
	}

	var completions []Completion

	// Heatmap fast-path bypasses all identity/group processing.
	if ev.Event == heatmap.FastPathEventName {
		records, err := r.hub.Heatmaps.Extract(ev, team)
		if err != nil {
			r.hub.Log.Warn("invalid_heatmap_data", zap.Error(err), zap.String("uuid", ev.UUID))
		}
		if len(records) > 0 {
			completions = append(completions, r.hub.Producer.SendHeatmaps(records))
		}
		return ProducedResult(), completions
	}

	personProcessingEnabled := r.personProcessingEnabled(ev, team)

	warning := r.hub.Normalizer.Normalize(ev, personProcessingEnabled, time.Now())
	if warning != nil {
		completions = append(completions, r.hub.Producer.SendIngestionWarning(domain.IngestionWarning{
			TeamID: team.ID, Type: warning.Code, Source: "pipeline-runner",
			Details: fmt.Sprintf("%v", warning.Details), Timestamp: time.Now(),
		}))
	}

	if !personProcessingEnabled && isIdentityEvent(ev.Event) {
		metrics.EventsDropped.WithLabelValues(ev.Event, string(CauseInvalidEventWhenPersonDisabled)).Inc()
		return DroppedResult(CauseInvalidEventWhenPersonDisabled, map[string]string{"uuid": ev.UUID}), completions
	}

	transformed := r.hub.Transformer.Run(ev)
	if transformed == nil {
		metrics.EventsDropped.WithLabelValues(ev.Event, string(CauseTransformationDropped)).Inc()
		return DroppedResult(CauseTransformationDropped, map[string]string{"uuid": ev.UUID}), completions
	}
	ev = transformed

	r.hub.AI.Process(ev)

	var personOutcome *identity.Outcome
	if personProcessingEnabled {
		personOutcome, err = r.hub.Identity.Process(ctx, ev)
		if err != nil {
			if errors.Is(err, identity.ErrConflictExhausted) {
				return RetryResult(err), completions
			}
			return RetryResult(fmt.Errorf("identity resolution: %w", err)), completions
		}

		if err := r.hub.Groups.Apply(ctx, ev); err != nil {
			r.hub.Log.Warn("group resolution failed, continuing without groups", zap.Error(err), zap.String("uuid", ev.UUID))
		}
	}

	if records, err := r.hub.Heatmaps.Extract(ev, team); err != nil {
		r.hub.Log.Warn("invalid_heatmap_data", zap.Error(err), zap.String("uuid", ev.UUID))
	} else if len(records) > 0 {
		completions = append(completions, r.hub.Producer.SendHeatmaps(records))
	}

	enriched, err := r.hub.Assembler.Assemble(ev, team, personOutcome)
	if err != nil {
		return FatalResult(fmt.Errorf("assemble enriched event: %w", err)), completions
	}

	if ev.Event == "$exception" {
		if _, ok := ev.Properties["$sentry_event_id"]; !ok {
			completions = append(completions, r.hub.Producer.SendException(enriched))
			metrics.EventsProduced.WithLabelValues(ev.Event).Inc()
			return ProducedResult(), completions
		}
	}

	sendCompletion := r.hub.Producer.SendEnrichedEvent(enriched)
	if err := sendCompletion.Wait(); err != nil {
		if errors.Is(err, ErrMessageSizeTooLarge) {
			metrics.EventsDropped.WithLabelValues(ev.Event, string(CauseMessageSizeTooLarge)).Inc()
			completions = append(completions, r.hub.Producer.SendIngestionWarning(domain.IngestionWarning{
				TeamID: team.ID, Type: "message_size_too_large", Source: "producer",
				Details: ev.UUID, Timestamp: time.Now(),
			}))
			return DroppedResult(CauseMessageSizeTooLarge, map[string]string{"uuid": ev.UUID}), completions
		}
		return RetryResult(fmt.Errorf("produce enriched event: %w", err)), completions
	}

	metrics.EventsProduced.WithLabelValues(ev.Event).Inc()
	return ProducedResult(), completions
}

// resolveTeam prefers the numeric team_id (set by newer SDKs) and falls
// back to the API token, matching the teacher's dual-lookup convention.
func (r *Runner) resolveTeam(ctx context.Context, ev *domain.PipelineEvent) (*domain.Team, error) {
	if ev.TeamID != 0 {
		return r.hub.Teams.ByID(ctx, ev.TeamID)
	}
	return r.hub.Teams.ByToken(ctx, ev.Token)
}

func (r *Runner) personProcessingEnabled(ev *domain.PipelineEvent, team *domain.Team) bool {
	// Team opt-out wins over per-event opt-in (spec.md §9 Open Question a).
	if team.PersonProcessingOptOut {
		return false
	}
	if ids, ok := r.hub.SkipTokens[ev.Token]; ok && ids[ev.DistinctID] {
		return false
	}
	return true
}

func isIdentityEvent(event string) bool {
	switch event {
	case "$identify", "$create_alias", "$merge_dangerously", "$groupidentify":
		return true
	default:
		return false
	}
}

// dropInvalidUUID drops an event whose uuid failed validation, still
// emitting the "drop with warning" ingestion-warning record spec.md §7
// requires for this cause. The team is resolved best-effort from whatever
// token/team_id the partial event carries, purely to attribute the
// warning; resolution failure never turns this into a retry.
func (r *Runner) dropInvalidUUID(ctx context.Context, ev *domain.PipelineEvent) (Result, []Completion) {
	metrics.EventsDropped.WithLabelValues("unknown", string(CauseInvalidEventUUID)).Inc()

	uuid := ""
	var teamID int64
	if ev != nil {
		uuid = ev.UUID
		if team, err := r.resolveTeam(ctx, ev); err == nil && team != nil {
			teamID = team.ID
		}
	}

	completion := r.hub.Producer.SendIngestionWarning(domain.IngestionWarning{
		TeamID: teamID, Type: "invalid_event_uuid", Source: "pipeline-runner",
		Details: uuid, Timestamp: time.Now(),
	})

	return DroppedWithWarning(CauseInvalidEventUUID, "invalid_event_uuid", map[string]string{"uuid": uuid}), []Completion{completion}
}
