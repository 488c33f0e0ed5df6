// Package heatmap implements the pipeline's HeatmapExtractor: pulling
// $heatmap_data out of an event's properties into per-coordinate records,
// and handling the $$heatmap fast-path event.
package heatmap

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
)

// FastPathEventName bypasses all identity/group processing; it is handled
// only by this component.
const FastPathEventName = "$$heatmap"

type Extractor struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Extractor {
	return &Extractor{log: log}
}

// Extract pulls $heatmap_data into per-coordinate HeatmapRecords when the
// team opts in, and always deletes $heatmap_data from ev.Properties
// afterward regardless of outcome. A malformed payload is logged as
// invalid_heatmap_data and does not abort the event.
func (e *Extractor) Extract(ev *domain.PipelineEvent, team *domain.Team) ([]domain.HeatmapRecord, error) {
	defer delete(ev.Properties, "$heatmap_data")

	if team != nil && !team.HeatmapsOptIn {
		return nil, nil
	}

	raw, ok := ev.Properties["$heatmap_data"]
	if !ok {
		return nil, nil
	}

	entries, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid_heatmap_data: expected object, got %T", raw)
	}

	var records []domain.HeatmapRecord
	ts := time.Now()
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}

	for viewport, pointsRaw := range entries {
		points, ok := pointsRaw.([]any)
		if !ok {
			e.log.Warn("invalid_heatmap_data: viewport entry is not a list", zap.String("viewport", viewport))
			continue
		}
		w, h := parseViewport(viewport)
		for _, pRaw := range points {
			p, ok := pRaw.(map[string]any)
			if !ok {
				continue
			}
			rec := domain.HeatmapRecord{
				EventUUID:      ev.UUID,
				TeamID:         ev.TeamID,
				Type:           stringField(p, "type"),
				X:              intField(p, "x"),
				Y:              intField(p, "y"),
				TargetFixed:    boolField(p, "target_fixed"),
				ViewportWidth:  w,
				ViewportHeight: h,
				Timestamp:      ts,
			}
			records = append(records, rec)
		}
	}

	return records, nil
}

func parseViewport(key string) (width, height int) {
	var w, h int
	if _, err := fmt.Sscanf(key, "%dx%d", &w, &h); err != nil {
		return 0, 0
	}
	return w, h
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func boolField(m map[string]any, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}
