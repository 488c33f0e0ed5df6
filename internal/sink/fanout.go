// Package sink composes the bus producer with the ClickHouse analytical
// sink behind the single pipeline.Producer interface the runner depends
// on, so enriched events land in both places without the pipeline package
// knowing either concrete store exists.
package sink

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/pipeline"
)

// AnalyticalStore is the narrow write contract Fanout needs from the
// ClickHouse repository.
type AnalyticalStore interface {
	InsertBatch(ctx context.Context, events []*domain.EnrichedEvent) (int, error)
}

// Fanout wraps a bus Producer, additionally persisting every enriched
// event to the analytical store. A ClickHouse write failure is logged and
// does not fail the Completion: the bus is this pipeline's durability
// boundary (spec.md §4.12), ClickHouse is a best-effort queryable mirror.
type Fanout struct {
	bus   pipeline.Producer
	store AnalyticalStore
	log   *zap.Logger
}

func NewFanout(bus pipeline.Producer, store AnalyticalStore, log *zap.Logger) *Fanout {
	return &Fanout{bus: bus, store: store, log: log}
}

func (f *Fanout) SendEnrichedEvent(ev *domain.EnrichedEvent) pipeline.Completion {
	completion := f.bus.SendEnrichedEvent(ev)
	go func() {
		if _, err := f.store.InsertBatch(context.Background(), []*domain.EnrichedEvent{ev}); err != nil {
			f.log.Warn("clickhouse mirror write failed", zap.String("uuid", ev.UUID), zap.Error(fmt.Errorf("insert enriched event: %w", err)))
		}
	}()
	return completion
}

func (f *Fanout) SendIngestionWarning(w domain.IngestionWarning) pipeline.Completion {
	return f.bus.SendIngestionWarning(w)
}

func (f *Fanout) SendHeatmaps(records []domain.HeatmapRecord) pipeline.Completion {
	return f.bus.SendHeatmaps(records)
}

func (f *Fanout) SendException(ev *domain.EnrichedEvent) pipeline.Completion {
	return f.bus.SendException(ev)
}
