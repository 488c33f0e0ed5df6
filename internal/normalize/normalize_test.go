package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Demonslyr/posthog/internal/domain"
)

func TestNormalize_TrimsAndStripsControlChars(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{Event: "  page\x00view  ", Properties: map[string]any{}}

	warning := n.Normalize(ev, true, now)

	assert.Equal(t, "pageview", ev.Event)
	assert.Nil(t, warning)
}

func TestNormalize_TruncatesLongEventName(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{Event: strings.Repeat("x", 300), Properties: map[string]any{}}

	n.Normalize(ev, true, now)

	assert.Len(t, ev.Event, maxEventNameLength)
}

func TestNormalize_UsesExplicitTimestamp(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ts := now.Add(-time.Hour)
	ev := &domain.PipelineEvent{Event: "e", Timestamp: &ts, Properties: map[string]any{}}

	warning := n.Normalize(ev, true, now)

	assert.Nil(t, warning)
	assert.True(t, ev.Timestamp.Equal(ts))
}

func TestNormalize_FutureTimestampClampedWithWarning(t *testing.T) {
	n := New(time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	ev := &domain.PipelineEvent{Event: "e", Timestamp: &future, Properties: map[string]any{}}

	warning := n.Normalize(ev, true, now)

	assert.NotNil(t, warning)
	assert.Equal(t, "event_timestamp_in_future", warning.Code)
	assert.True(t, ev.Timestamp.Equal(now))
}

func TestNormalize_SentAtMinusOffset(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	sentAt := now.Add(-time.Minute)
	offset := int64(500)
	ev := &domain.PipelineEvent{Event: "e", SentAt: &sentAt, Offset: &offset, Properties: map[string]any{}}

	warning := n.Normalize(ev, true, now)

	assert.Nil(t, warning)
	assert.True(t, ev.Timestamp.Equal(sentAt.Add(-500 * time.Millisecond)))
}

func TestNormalize_NoTimestampInfoDefaultsToNowWithoutWarning(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{Event: "e", Properties: map[string]any{}}

	warning := n.Normalize(ev, true, now)

	assert.Nil(t, warning)
	assert.True(t, ev.Timestamp.Equal(now))
}

func TestNormalize_StripsPersonPropertiesWhenDisabled(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{
		Event: "e",
		Properties: map[string]any{
			"$set":          map[string]any{"plan": "pro"},
			"$set_once":     map[string]any{"first_seen": "x"},
			"$group_0":      "acme",
			"$groups":       map[string]any{"company": "acme"},
			"normal_prop":   "kept",
		},
	}

	n.Normalize(ev, false, now)

	assert.NotContains(t, ev.Properties, "$set")
	assert.NotContains(t, ev.Properties, "$set_once")
	assert.NotContains(t, ev.Properties, "$group_0")
	assert.NotContains(t, ev.Properties, "$groups")
	assert.Contains(t, ev.Properties, "normal_prop")
}

func TestNormalize_KeepsPersonPropertiesWhenEnabled(t *testing.T) {
	n := New(24 * time.Hour)
	now := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{
		Event:      "e",
		Properties: map[string]any{"$set": map[string]any{"plan": "pro"}},
	}

	n.Normalize(ev, true, now)

	assert.Contains(t, ev.Properties, "$set")
}
