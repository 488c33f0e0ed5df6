// Package normalize sanitizes event names, resolves timestamps by the
// spec's precedence rules, and strips person-related properties when
// person processing is disabled for an event.
package normalize

import (
	"strings"
	"time"
	"unicode"

	"github.com/Demonslyr/posthog/internal/domain"
)

const maxEventNameLength = 200

var personPropertyKeys = []string{"$set", "$set_once", "$unset"}

// Warning carries an ingestion-warning code produced during normalization,
// distinct from the hard drop causes handled upstream.
type Warning struct {
	Code    string
	Details map[string]string
}

// Normalizer applies the spec's §4.4 rules to a decoded PipelineEvent.
type Normalizer struct {
	FutureTolerance time.Duration
}

func New(futureTolerance time.Duration) *Normalizer {
	return &Normalizer{FutureTolerance: futureTolerance}
}

// Normalize mutates ev in place: trims/caps the event name, resolves the
// effective timestamp, and strips person-scoped property keys when
// personProcessingEnabled is false. Returns an ingestion warning when the
// timestamp had to be clamped.
func (n *Normalizer) Normalize(ev *domain.PipelineEvent, personProcessingEnabled bool, now time.Time) *Warning {
	ev.Event = sanitizeEventName(ev.Event)

	resolved, warning := n.resolveTimestamp(ev, now)
	ev.Timestamp = &resolved

	if !personProcessingEnabled {
		stripPersonProperties(ev.Properties)
	}

	return warning
}

func sanitizeEventName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	name = b.String()
	if len(name) > maxEventNameLength {
		name = name[:maxEventNameLength]
	}
	return name
}

// resolveTimestamp implements the precedence: explicit timestamp, else
// sent_at minus offset, else now() without a warning. Too-far-future values
// are clamped to now() with a warning.
func (n *Normalizer) resolveTimestamp(ev *domain.PipelineEvent, now time.Time) (time.Time, *Warning) {
	if ev.Timestamp != nil {
		ts := *ev.Timestamp
		if ts.After(now.Add(n.FutureTolerance)) {
			return now, &Warning{Code: "event_timestamp_in_future", Details: map[string]string{"uuid": ev.UUID}}
		}
		return ts, nil
	}

	if ev.SentAt != nil && ev.Offset != nil {
		ts := ev.SentAt.Add(-time.Duration(*ev.Offset) * time.Millisecond)
		if ts.After(now.Add(n.FutureTolerance)) {
			return now, &Warning{Code: "event_timestamp_in_future", Details: map[string]string{"uuid": ev.UUID}}
		}
		return ts, nil
	}

	return now, nil
}

// stripPersonProperties removes $set/$set_once/$unset and every $group_*
// key from properties, per spec §4.4.
func stripPersonProperties(props map[string]any) {
	if props == nil {
		return
	}
	for _, k := range personPropertyKeys {
		delete(props, k)
	}
	for k := range props {
		if strings.HasPrefix(k, "$group_") || k == "$groups" {
			delete(props, k)
		}
	}
}
