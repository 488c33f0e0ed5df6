package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/ai"
	"github.com/Demonslyr/posthog/internal/assemble"
	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/group"
	"github.com/Demonslyr/posthog/internal/heatmap"
	"github.com/Demonslyr/posthog/internal/identity"
	"github.com/Demonslyr/posthog/internal/normalize"
	"github.com/Demonslyr/posthog/internal/teamresolver"
	"github.com/Demonslyr/posthog/internal/transform"
)

// Producer is the narrow interface PipelineRunner needs from the bus
// producer, kept here to avoid an import cycle with internal/bus/kafka.
type Producer interface {
	SendEnrichedEvent(ev *domain.EnrichedEvent) Completion
	SendIngestionWarning(w domain.IngestionWarning) Completion
	SendHeatmaps(records []domain.HeatmapRecord) Completion
	SendException(ev *domain.EnrichedEvent) Completion
}

// Completion is a handle to a pending producer send, awaited by the
// consumer before it commits offsets. Replaces the source's reactive
// collection-of-side-effect-futures pattern with an explicit list of
// completion handles (DESIGN NOTES §9).
type Completion interface {
	Wait() error
}

// IdempotencyCache lets the runner recognize a redelivered event uuid it
// already produced, kept narrow so the Hub doesn't depend on the concrete
// Redis client.
type IdempotencyCache interface {
	SeenOrMark(ctx context.Context, uuid string) (seen bool, err error)
}

// Hub encapsulates every piece of global-ish state a pipeline run needs —
// team cache, producer, metrics — as an explicit value passed to every
// component, instead of process-wide singletons (DESIGN NOTES §9).
type Hub struct {
	Teams       *teamresolver.Resolver
	Normalizer  *normalize.Normalizer
	Transformer *transform.Chain
	AI          *ai.Processor
	Identity    *identity.Engine
	Groups      *group.Engine
	Heatmaps    *heatmap.Extractor
	Assembler   *assemble.Assembler
	Producer    Producer
	Idempotency IdempotencyCache
	Log         *zap.Logger

	SkipTokens map[string]map[string]bool
}
