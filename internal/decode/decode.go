// Package decode implements the pipeline's EventDecoder: parsing raw bus
// bytes into a domain.PipelineEvent.
package decode

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Demonslyr/posthog/internal/domain"
)

// ErrInvalidUUID distinguishes a uuid-validation failure from a generic
// JSON decode failure, so the caller can pick the right drop cause.
var ErrInvalidUUID = errors.New("invalid_event_uuid")

// wireEvent mirrors the consumed bus schema in SPEC_FULL.md §6.
type wireEvent struct {
	Token      string         `json:"token,omitempty"`
	TeamID     *int64         `json:"team_id,omitempty"`
	UUID       string         `json:"uuid"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Timestamp  *string        `json:"timestamp,omitempty"`
	SentAt     *string        `json:"sent_at,omitempty"`
	Offset     *int64         `json:"offset,omitempty"`
	Properties map[string]any `json:"properties"`
}

// Decode parses raw bytes into a PipelineEvent. A JSON decode failure or a
// missing/invalid uuid both surface as errors; the caller classifies the
// former as drop cause "malformed" and the latter as "invalid_event_uuid".
func Decode(raw []byte) (*domain.PipelineEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("malformed event: %w", err)
	}

	ev := &domain.PipelineEvent{
		Token:      w.Token,
		UUID:       w.UUID,
		Event:      w.Event,
		DistinctID: w.DistinctID,
		Offset:     w.Offset,
		Properties: w.Properties,
	}
	if w.TeamID != nil {
		ev.TeamID = *w.TeamID
	}
	if ev.Properties == nil {
		ev.Properties = map[string]any{}
	}
	if w.Timestamp != nil {
		if t, err := time.Parse(time.RFC3339, *w.Timestamp); err == nil {
			ev.Timestamp = &t
		}
	}
	if w.SentAt != nil {
		if t, err := time.Parse(time.RFC3339, *w.SentAt); err == nil {
			ev.SentAt = &t
		}
	}

	// The partial event is still returned on an invalid uuid so the caller
	// can resolve its team and attach it to the resulting ingestion warning.
	if _, err := uuid.Parse(w.UUID); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrInvalidUUID, err)
	}

	return ev, nil
}
