package assemble

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/identity"
)

func TestAssemble_FullPersonMode(t *testing.T) {
	a := New(zap.NewNop())
	ts := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	ev := &domain.PipelineEvent{
		UUID: "u1", Event: "pageview", DistinctID: "d1", Timestamp: &ts,
		Properties: map[string]any{"$browser": "Chrome"},
	}
	team := &domain.Team{ID: 42, ProjectID: 99}
	outcome := &identity.Outcome{Person: &domain.Person{UUID: "p1", CreatedAt: ts, Properties: map[string]any{"plan": "pro"}}}

	enriched, err := a.Assemble(ev, team, outcome)

	require.NoError(t, err)
	assert.Equal(t, "u1", enriched.UUID)
	assert.Equal(t, int64(42), enriched.TeamID)
	assert.Equal(t, int64(99), enriched.ProjectID)
	assert.Equal(t, "p1", enriched.PersonID)
	assert.Equal(t, domain.PersonModeFull, enriched.PersonMode)
	assert.Contains(t, enriched.PersonPropertiesJSON, "pro")
	assert.Contains(t, enriched.PropertiesJSON, "Chrome")
}

func TestAssemble_ForceUpgradeModeHasEmptyPersonProperties(t *testing.T) {
	a := New(zap.NewNop())
	ev := &domain.PipelineEvent{UUID: "u1", Event: "pageview", DistinctID: "d1", Properties: map[string]any{}}
	team := &domain.Team{ID: 1}
	outcome := &identity.Outcome{Person: &domain.Person{UUID: "p1"}, ForceUpgrade: true}

	enriched, err := a.Assemble(ev, team, outcome)

	require.NoError(t, err)
	assert.Equal(t, domain.PersonModeForceUpgrade, enriched.PersonMode)
	assert.Equal(t, "{}", enriched.PersonPropertiesJSON)
}

func TestAssemble_PropertylessModeWhenNoPersonOutcome(t *testing.T) {
	a := New(zap.NewNop())
	ev := &domain.PipelineEvent{
		UUID: "u1", Event: "pageview", DistinctID: "d1",
		Properties: map[string]any{"$group_0": "acme", "$groups": map[string]any{"company": "acme"}, "kept": "yes"},
	}
	team := &domain.Team{ID: 1}

	enriched, err := a.Assemble(ev, team, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.PersonModePropertyless, enriched.PersonMode)
	assert.Equal(t, "{}", enriched.PersonPropertiesJSON)
	assert.Empty(t, enriched.PersonID)
	assert.NotContains(t, enriched.PropertiesJSON, "$group_0")
	assert.Contains(t, enriched.PropertiesJSON, "kept")
}

func TestAssemble_AnonymizeIPsStripsIPProperty(t *testing.T) {
	a := New(zap.NewNop())
	ev := &domain.PipelineEvent{
		UUID: "u1", Event: "pageview", DistinctID: "d1",
		Properties: map[string]any{"$ip": "1.2.3.4"},
	}
	team := &domain.Team{ID: 1, AnonymizeIPs: true}

	enriched, err := a.Assemble(ev, team, nil)

	require.NoError(t, err)
	assert.NotContains(t, enriched.PropertiesJSON, "1.2.3.4")
}

func TestAssemble_BuildsElementsChain(t *testing.T) {
	a := New(zap.NewNop())
	ev := &domain.PipelineEvent{
		UUID: "u1", Event: "$autocapture", DistinctID: "d1",
		Properties: map[string]any{
			"$elements": []any{
				map[string]any{"tag_name": "button", "attr_class": "btn-primary", "text": "Buy now"},
			},
		},
	}
	team := &domain.Team{ID: 1}

	enriched, err := a.Assemble(ev, team, nil)

	require.NoError(t, err)
	assert.Contains(t, enriched.ElementsChain, "button")
	assert.Contains(t, enriched.ElementsChain, "Buy now")
}

func TestAssemble_MissingTimestampDefaultsToNow(t *testing.T) {
	a := New(zap.NewNop())
	ev := &domain.PipelineEvent{UUID: "u1", Event: "pageview", DistinctID: "d1", Properties: map[string]any{}}
	team := &domain.Team{ID: 1}

	before := time.Now()
	enriched, err := a.Assemble(ev, team, nil)
	after := time.Now()

	require.NoError(t, err)
	assert.False(t, enriched.Timestamp.Before(before))
	assert.False(t, enriched.Timestamp.After(after))
}
