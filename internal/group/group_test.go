package group

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

type fakeStore struct {
	indices     map[string]int
	nextIndex   int
	cap         int
	upsertCalls []upsertCall
}

type upsertCall struct {
	teamID         int64
	groupTypeIndex int
	groupKey       string
	set, setOnce   map[string]any
}

func newFakeStore(cap int) *fakeStore {
	return &fakeStore{indices: map[string]int{}, cap: cap}
}

func (s *fakeStore) ResolveOrAssignGroupTypeIndex(ctx context.Context, teamID int64, groupTypeName string, capArg int) (int, bool, error) {
	key := groupTypeName
	if idx, ok := s.indices[key]; ok {
		return idx, true, nil
	}
	if len(s.indices) >= s.cap {
		return 0, false, nil
	}
	idx := s.nextIndex
	s.nextIndex++
	s.indices[key] = idx
	return idx, true, nil
}

func (s *fakeStore) UpsertGroup(ctx context.Context, teamID int64, groupTypeIndex int, groupKey string, set, setOnce map[string]any) (*domain.Group, error) {
	s.upsertCalls = append(s.upsertCalls, upsertCall{teamID, groupTypeIndex, groupKey, set, setOnce})
	return &domain.Group{TeamID: teamID, GroupTypeIndex: groupTypeIndex, GroupKey: groupKey}, nil
}

func TestApply_ResolvesGroupsIntoIndexedProperties(t *testing.T) {
	store := newFakeStore(5)
	e := New(store, 5, zap.NewNop())
	ev := &domain.PipelineEvent{
		TeamID: 1, Event: "pageview",
		Properties: map[string]any{"$groups": map[string]any{"company": "acme"}},
	}

	err := e.Apply(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, "acme", ev.Properties["$group_0"])
}

func TestApply_CapExceededSkipsWithoutError(t *testing.T) {
	store := newFakeStore(1)
	e := New(store, 1, zap.NewNop())
	store.indices["existing"] = 0
	store.nextIndex = 1

	ev := &domain.PipelineEvent{
		TeamID: 1, Event: "pageview",
		Properties: map[string]any{"$groups": map[string]any{"brand_new_type": "acme"}},
	}

	err := e.Apply(context.Background(), ev)

	require.NoError(t, err)
	assert.NotContains(t, ev.Properties, "$group_1")
}

func TestApply_GroupIdentifyUpsertsGroup(t *testing.T) {
	store := newFakeStore(5)
	e := New(store, 5, zap.NewNop())
	ev := &domain.PipelineEvent{
		TeamID: 1, Event: "$groupidentify",
		Properties: map[string]any{
			"$group_type":     "company",
			"$group_key":      "acme",
			"$group_set":      map[string]any{"plan": "enterprise"},
			"$group_set_once": map[string]any{"signup_source": "referral"},
		},
	}

	err := e.Apply(context.Background(), ev)

	require.NoError(t, err)
	require.Len(t, store.upsertCalls, 1)
	call := store.upsertCalls[0]
	assert.Equal(t, "acme", call.groupKey)
	assert.Equal(t, "enterprise", call.set["plan"])
	assert.Equal(t, "referral", call.setOnce["signup_source"])
}

func TestApply_GroupIdentifyMissingFieldsIsNoop(t *testing.T) {
	store := newFakeStore(5)
	e := New(store, 5, zap.NewNop())
	ev := &domain.PipelineEvent{TeamID: 1, Event: "$groupidentify", Properties: map[string]any{}}

	err := e.Apply(context.Background(), ev)

	require.NoError(t, err)
	assert.Empty(t, store.upsertCalls)
}

func TestApply_NonGroupEventWithoutGroupsPropertyIsNoop(t *testing.T) {
	store := newFakeStore(5)
	e := New(store, 5, zap.NewNop())
	ev := &domain.PipelineEvent{TeamID: 1, Event: "pageview", Properties: map[string]any{}}

	err := e.Apply(context.Background(), ev)

	require.NoError(t, err)
	assert.Empty(t, store.upsertCalls)
}
