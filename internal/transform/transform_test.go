package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

func TestChain_NoSteps_ReturnsEventUnchanged(t *testing.T) {
	c := New(zap.NewNop())
	ev := &domain.PipelineEvent{UUID: "u1", Event: "e"}

	out := c.Run(ev)

	assert.Same(t, ev, out)
}

func TestChain_StepMutatesEvent(t *testing.T) {
	step := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) {
		ev.Event = "renamed"
		return ev, nil
	}
	c := New(zap.NewNop(), step)
	ev := &domain.PipelineEvent{UUID: "u1", Event: "original"}

	out := c.Run(ev)

	assert.Equal(t, "renamed", out.Event)
}

func TestChain_StepReturningNilDropsEvent(t *testing.T) {
	dropper := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) { return nil, nil }
	c := New(zap.NewNop(), dropper)
	ev := &domain.PipelineEvent{UUID: "u1", Event: "e"}

	out := c.Run(ev)

	assert.Nil(t, out)
}

func TestChain_StepErrorIsSwallowedAndChainContinues(t *testing.T) {
	failing := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) {
		return nil, errors.New("boom")
	}
	renaming := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) {
		ev.Event = "survived"
		return ev, nil
	}
	c := New(zap.NewNop(), failing, renaming)
	ev := &domain.PipelineEvent{UUID: "u1", Event: "original"}

	out := c.Run(ev)

	assert.NotNil(t, out)
	assert.Equal(t, "survived", out.Event)
}

func TestChain_DropStopsSubsequentSteps(t *testing.T) {
	called := false
	dropper := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) { return nil, nil }
	after := func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error) {
		called = true
		return ev, nil
	}
	c := New(zap.NewNop(), dropper, after)
	ev := &domain.PipelineEvent{UUID: "u1", Event: "e"}

	out := c.Run(ev)

	assert.Nil(t, out)
	assert.False(t, called)
}
