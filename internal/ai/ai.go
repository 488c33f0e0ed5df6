// Package ai implements the pipeline's AIEventProcessor: deriving
// token/cost fields for $ai_generation and $ai_embedding events from a
// static model/provider cost table.
package ai

import (
	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

// costPerThousandTokens is a minimal built-in provider/model rate table.
// Unknown model/provider pairs fall back to a zero cost rather than
// aborting the event.
var costPerThousandTokens = map[string]float64{
	"openai:gpt-4o":            0.005,
	"openai:gpt-4o-mini":       0.00015,
	"anthropic:claude-3-opus":  0.015,
	"anthropic:claude-3-sonnet": 0.003,
}

type Processor struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Processor {
	return &Processor{log: log}
}

// Process derives $ai_input_tokens, $ai_output_tokens and
// $ai_total_cost_usd for $ai_generation/$ai_embedding events. Failures are
// logged and never abort the event.
func (p *Processor) Process(ev *domain.PipelineEvent) {
	if ev.Event != "$ai_generation" && ev.Event != "$ai_embedding" {
		return
	}

	inputTokens := numField(ev.Properties, "$ai_input_tokens")
	outputTokens := numField(ev.Properties, "$ai_output_tokens")
	provider, _ := ev.Properties["$ai_provider"].(string)
	model, _ := ev.Properties["$ai_model"].(string)

	rate, ok := costPerThousandTokens[provider+":"+model]
	if !ok {
		p.log.Debug("no cost table entry for model, defaulting cost to zero",
			zap.String("provider", provider), zap.String("model", model))
		rate = 0
	}

	totalTokens := inputTokens + outputTokens
	ev.Properties["$ai_input_tokens"] = inputTokens
	ev.Properties["$ai_output_tokens"] = outputTokens
	ev.Properties["$ai_total_cost_usd"] = (totalTokens / 1000.0) * rate
}

func numField(props map[string]any, key string) float64 {
	if v, ok := props[key].(float64); ok {
		return v
	}
	return 0
}
