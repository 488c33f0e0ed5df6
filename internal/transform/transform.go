// Package transform runs a chain of user-defined transformations over a
// PipelineEvent. Each step may mutate the event or drop it; a step failure
// is logged and counted but never aborts the event.
package transform

import (
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

// Step is a single user-defined transformation. A nil *domain.PipelineEvent
// return drops the event; a non-nil error is logged and swallowed, and the
// pre-transform event continues to the next step.
type Step func(ev *domain.PipelineEvent) (*domain.PipelineEvent, error)

// Chain runs an ordered list of Steps.
type Chain struct {
	steps []Step
	log   *zap.Logger
}

func New(log *zap.Logger, steps ...Step) *Chain {
	return &Chain{steps: steps, log: log}
}

// Run returns the transformed event, or nil if any step dropped it.
func (c *Chain) Run(ev *domain.PipelineEvent) *domain.PipelineEvent {
	current := ev
	for _, step := range c.steps {
		out, err := step(current)
		if err != nil {
			c.log.Warn("transformation step failed, continuing with pre-transform event",
				zap.Error(err), zap.String("uuid", current.UUID))
			continue
		}
		if out == nil {
			return nil
		}
		current = out
	}
	return current
}
