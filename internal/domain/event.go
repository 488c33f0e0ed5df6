package domain

import "time"

// PipelineEvent is the raw, decoded form of an event as it enters the
// pipeline, before team resolution, normalization or enrichment.
type PipelineEvent struct {
	Token      string
	TeamID     int64
	UUID       string
	Event      string
	DistinctID string
	Timestamp  *time.Time
	SentAt     *time.Time
	Offset     *int64
	Properties map[string]any

	// Kafka partition/offset field. The decoder does not set it and the
	// consumer does not read it; offsets are committed from the Kafka
	// message itself.
	PartitionOffset int64
}

// PersonMode classifies how much of the person snapshot an enriched event
// carries downstream.
type PersonMode string

const (
	PersonModeFull         PersonMode = "full"
	PersonModeForceUpgrade PersonMode = "force_upgrade"
	PersonModePropertyless PersonMode = "propertyless"
)

// EnrichedEvent is the pipeline's terminal output record.
type EnrichedEvent struct {
	UUID                 string
	Event                string
	PropertiesJSON       string
	Timestamp            time.Time
	TeamID               int64
	ProjectID            int64
	DistinctID           string
	ElementsChain        string
	CreatedAt            time.Time
	PersonID             string
	PersonPropertiesJSON string
	PersonCreatedAt       time.Time
	PersonMode           PersonMode
}

// IngestionWarning is published to the ingestion-warnings side topic.
type IngestionWarning struct {
	TeamID    int64
	Type      string
	Source    string
	Details   string
	Timestamp time.Time
}

// HeatmapRecord is a single per-coordinate sub-event extracted from
// $heatmap_data.
type HeatmapRecord struct {
	EventUUID string
	TeamID    int64
	Type      string
	X         int
	Y         int
	TargetFixed bool
	ViewportWidth  int
	ViewportHeight int
	Timestamp time.Time
}
