package domain

import "time"

// Team is read-only from the pipeline's perspective, cached with a short TTL.
type Team struct {
	ID                     int64
	ProjectID              int64
	APIToken               string
	AnonymizeIPs           bool
	HeatmapsOptIn          bool
	PersonProcessingOptOut bool
	IngestedEvent          bool
}

// Person is the resolved end-user identity. Identified by (TeamID, UUID).
type Person struct {
	ID           int64
	UUID         string
	TeamID       int64
	CreatedAt    time.Time
	Properties   map[string]any
	IsIdentified bool
	IsUserID     *int64
	Version      int64
	ForceUpgrade bool
}

// DistinctIDMapping maps a (TeamID, DistinctID) pair to the person currently
// owning it. Unique on (TeamID, DistinctID).
type DistinctIDMapping struct {
	TeamID     int64
	DistinctID string
	PersonID   int64
	Version    int64
}

// Group is a named entity distinct from a person, scoped to a team and a
// group-type index.
type Group struct {
	TeamID         int64
	GroupTypeIndex int
	GroupKey       string
	Properties     map[string]any
	CreatedAt      time.Time
	Version        int64
}

// GroupTypeMapping assigns a stable index to a named group type for a team.
// A team may register at most MaxGroupTypesPerTeam distinct group types.
type GroupTypeMapping struct {
	TeamID        int64
	GroupTypeName string
	GroupTypeIndex int
}

// MaxGroupTypesPerTeam bounds how many distinct group type names a team may
// register; beyond this, GroupEngine resolves "no index" for new types.
const MaxGroupTypesPerTeam = 5
