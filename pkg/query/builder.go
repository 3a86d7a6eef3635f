package query

import (
	"fmt"
	"strings"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
)

const generalTemplate = "Find relevant sustainability indicators for a circular bioeconomy project with %s"

type Topic string

const (
	TopicOutcome  Topic = "outcome"
	TopicBudget   Topic = "budget"
	TopicLocation Topic = "location"
)

// Hint narrows the query to one topic. An empty Value falls back to the
// matching profile field.
type Hint struct {
	Topic Topic
	Value string
}

var fieldOrder = []profile.Field{
	profile.FieldProjectType,
	profile.FieldLocation,
	profile.FieldOutcomes,
	profile.FieldBudget,
	profile.FieldCapacity,
}

var labels = map[profile.Field]string{
	profile.FieldProjectType: "project type",
	profile.FieldLocation:    "location",
	profile.FieldOutcomes:    "outcomes",
	profile.FieldBudget:      "budget",
	profile.FieldCapacity:    "capacity",
}

type Builder struct {
	normalizeLevels bool
}

// NewBuilder returns a builder. With normalizeLevels set, budget and
// capacity are rendered through profile.NormalizeBudget/NormalizeCapacity.
func NewBuilder(normalizeLevels bool) *Builder {
	return &Builder{normalizeLevels: normalizeLevels}
}

// Build is deterministic for identical inputs.
func (b *Builder) Build(p profile.ProjectProfile, hint *Hint) string {
	if hint != nil {
		if q, ok := b.topical(p, *hint); ok {
			return q
		}
	}
	return b.general(p)
}

func (b *Builder) general(p profile.ProjectProfile) string {
	parts := make([]string, 0, len(fieldOrder))
	for _, f := range fieldOrder {
		if !p.IsPresent(f) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", labels[f], b.render(p, f)))
	}
	if len(parts) == 0 {
		return strings.TrimSuffix(fmt.Sprintf(generalTemplate, ""), " with ")
	}
	return fmt.Sprintf(generalTemplate, strings.Join(parts, "; "))
}

func (b *Builder) topical(p profile.ProjectProfile, hint Hint) (string, bool) {
	commodity := p.Value(profile.FieldProjectType)

	switch hint.Topic {
	case TopicOutcome:
		outcome := pick(hint.Value, p.Value(profile.FieldOutcomes))
		if outcome == "" {
			return "", false
		}
		return fmt.Sprintf("indicators that measure %s in circular bioeconomy projects", outcome), true

	case TopicBudget:
		budget := pick(hint.Value, b.render(p, profile.FieldBudget))
		if budget == "" {
			return "", false
		}
		filter := ""
		if commodity != "" {
			filter = "for " + commodity + " "
		}
		return fmt.Sprintf("measurement methods %swith %s budget cost-effective affordable", filter, budget), true

	case TopicLocation:
		location := pick(hint.Value, p.Value(profile.FieldLocation))
		if location == "" {
			return "", false
		}
		filter := ""
		if commodity != "" {
			filter = commodity + " "
		}
		return fmt.Sprintf("%sindicators and methods for %s region location-specific considerations", filter, location), true
	}
	return "", false
}

func (b *Builder) render(p profile.ProjectProfile, f profile.Field) string {
	v := p.Value(f)
	if !b.normalizeLevels {
		return v
	}
	switch f {
	case profile.FieldBudget:
		return profile.NormalizeBudget(v)
	case profile.FieldCapacity:
		return profile.NormalizeCapacity(v)
	}
	return v
}

func pick(preferred, fallback string) string {
	if s := strings.TrimSpace(preferred); s != "" {
		return s
	}
	return fallback
}

func ParseTopic(s string) (Topic, bool) {
	switch Topic(strings.ToLower(strings.TrimSpace(s))) {
	case TopicOutcome, "outcomes":
		return TopicOutcome, true
	case TopicBudget:
		return TopicBudget, true
	case TopicLocation:
		return TopicLocation, true
	}
	return "", false
}
