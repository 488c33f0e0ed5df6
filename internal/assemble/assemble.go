// Package assemble implements the pipeline's EventAssembler: building the
// enriched record from a processed PipelineEvent, the resolved Team and
// the resolved person snapshot.
package assemble

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Demonslyr/posthog/internal/domain"
	"github.com/Demonslyr/posthog/internal/identity"
)

type Assembler struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Assembler {
	return &Assembler{log: log}
}

// Assemble builds the EnrichedEvent. personOutcome is nil when person
// processing was disabled for this event (person_mode = propertyless).
func (a *Assembler) Assemble(ev *domain.PipelineEvent, team *domain.Team, personOutcome *identity.Outcome) (*domain.EnrichedEvent, error) {
	if team.AnonymizeIPs {
		delete(ev.Properties, "$ip")
	}

	elementsChain, err := a.buildElementsChain(ev.Properties["$elements"])
	if err != nil {
		a.log.Warn("failed to build elements chain, continuing without it", zap.Error(err), zap.String("uuid", ev.UUID))
	}

	mode := domain.PersonModePropertyless
	var personID, personProps string
	var personCreatedAt time.Time

	if personOutcome != nil {
		personID = personOutcome.Person.UUID
		personCreatedAt = personOutcome.Person.CreatedAt
		if personOutcome.ForceUpgrade {
			mode = domain.PersonModeForceUpgrade
			personProps = "{}"
		} else {
			mode = domain.PersonModeFull
			propsRaw, err := json.Marshal(personOutcome.Person.Properties)
			if err != nil {
				return nil, fmt.Errorf("marshal person properties: %w", err)
			}
			personProps = string(propsRaw)
		}
	} else {
		personProps = "{}"
		stripGroupKeys(ev.Properties)
	}

	propsRaw, err := json.Marshal(ev.Properties)
	if err != nil {
		return nil, fmt.Errorf("marshal event properties: %w", err)
	}

	ts := time.Now()
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}

	return &domain.EnrichedEvent{
		UUID:                 ev.UUID,
		Event:                ev.Event,
		PropertiesJSON:       string(propsRaw),
		Timestamp:            ts,
		TeamID:               team.ID,
		ProjectID:            team.ProjectID,
		DistinctID:           ev.DistinctID,
		ElementsChain:        elementsChain,
		CreatedAt:            time.Now(),
		PersonID:             personID,
		PersonPropertiesJSON: personProps,
		PersonCreatedAt:      personCreatedAt,
		PersonMode:           mode,
	}, nil
}

// buildElementsChain flattens $elements (a list of DOM-element descriptors)
// into the posthog-style "tag:attr1="v1"attr2="v2";tag2..." chain string.
func (a *Assembler) buildElementsChain(raw any) (string, error) {
	if raw == nil {
		return "", nil
	}
	elements, ok := raw.([]any)
	if !ok {
		return "", fmt.Errorf("$elements is not a list: %T", raw)
	}

	var parts []string
	for _, elRaw := range elements {
		el, ok := elRaw.(map[string]any)
		if !ok {
			continue
		}
		tag, _ := el["tag_name"].(string)
		if tag == "" {
			continue
		}
		var attrs []string
		for _, key := range []string{"attr_class", "attr_id", "text"} {
			if v, ok := el[key].(string); ok && v != "" {
				attrs = append(attrs, fmt.Sprintf("%s=%q", strings.TrimPrefix(key, "attr_"), v))
			}
		}
		if len(attrs) > 0 {
			parts = append(parts, tag+":"+strings.Join(attrs, ""))
		} else {
			parts = append(parts, tag)
		}
	}
	return strings.Join(parts, ";"), nil
}

func stripGroupKeys(props map[string]any) {
	for k := range props {
		if strings.HasPrefix(k, "$group_") || k == "$groups" {
			delete(props, k)
		}
	}
}
