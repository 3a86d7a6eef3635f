package profile

import "strings"

type Field string

const (
	FieldLocation    Field = "location"
	FieldProjectType Field = "project_type"
	FieldOutcomes    Field = "outcomes"
	FieldBudget      Field = "budget"
	FieldCapacity    Field = "capacity"
)

// RequiredFields is the declaration order. Missing-field reports and
// clarifying questions follow it.
var RequiredFields = []Field{
	FieldLocation,
	FieldProjectType,
	FieldOutcomes,
	FieldBudget,
	FieldCapacity,
}

// ProjectProfile is the project metadata gathered over a conversation.
// ProjectType doubles as the commodity. Budget and Capacity are free text;
// see NormalizeBudget and NormalizeCapacity.
type ProjectProfile struct {
	Location          string   `json:"location,omitempty"`
	ProjectType       string   `json:"project_type,omitempty"`
	Outcomes          []string `json:"outcomes"`
	Budget            string   `json:"budget,omitempty"`
	Capacity          string   `json:"capacity,omitempty"`
	DocumentsUploaded bool     `json:"documents_uploaded"`
}

func ParseField(name string) (Field, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "location":
		return FieldLocation, true
	case "project_type", "commodity":
		return FieldProjectType, true
	case "outcomes", "outcome":
		return FieldOutcomes, true
	case "budget":
		return FieldBudget, true
	case "capacity":
		return FieldCapacity, true
	}
	return "", false
}

// IsPresent reports whether the field holds a usable value: non-blank
// strings, and at least one non-blank outcome.
func (p ProjectProfile) IsPresent(f Field) bool {
	switch f {
	case FieldLocation:
		return present(p.Location)
	case FieldProjectType:
		return present(p.ProjectType)
	case FieldOutcomes:
		return len(cleanOutcomes(p.Outcomes)) > 0
	case FieldBudget:
		return present(p.Budget)
	case FieldCapacity:
		return present(p.Capacity)
	}
	return false
}

// Value renders a field for prompts and memory records. Outcomes are
// joined with ", ".
func (p ProjectProfile) Value(f Field) string {
	switch f {
	case FieldLocation:
		return strings.TrimSpace(p.Location)
	case FieldProjectType:
		return strings.TrimSpace(p.ProjectType)
	case FieldOutcomes:
		return strings.Join(cleanOutcomes(p.Outcomes), ", ")
	case FieldBudget:
		return strings.TrimSpace(p.Budget)
	case FieldCapacity:
		return strings.TrimSpace(p.Capacity)
	}
	return ""
}

// Set assigns a single field from text. Blank values are ignored so a
// setter can never erase a confirmed value. Outcomes are split on commas
// and semicolons.
func (p *ProjectProfile) Set(f Field, value string) bool {
	if !present(value) {
		return false
	}
	value = strings.TrimSpace(value)
	switch f {
	case FieldLocation:
		p.Location = value
	case FieldProjectType:
		p.ProjectType = value
	case FieldOutcomes:
		outcomes := cleanOutcomes(strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' }))
		if len(outcomes) == 0 {
			return false
		}
		p.Outcomes = outcomes
	case FieldBudget:
		p.Budget = value
	case FieldCapacity:
		p.Capacity = value
	default:
		return false
	}
	return true
}

// Found returns the present fields keyed by name.
func (p ProjectProfile) Found() map[string]interface{} {
	found := make(map[string]interface{})
	for _, f := range RequiredFields {
		if !p.IsPresent(f) {
			continue
		}
		if f == FieldOutcomes {
			found[string(f)] = cleanOutcomes(p.Outcomes)
			continue
		}
		found[string(f)] = p.Value(f)
	}
	return found
}

func (p ProjectProfile) Clone() ProjectProfile {
	c := p
	if p.Outcomes != nil {
		c.Outcomes = append([]string(nil), p.Outcomes...)
	}
	return c
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

func cleanOutcomes(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
