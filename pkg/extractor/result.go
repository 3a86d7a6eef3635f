package extractor

import "github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"

// Result is either Ok or Failed. Callers switch on the concrete type or use
// Fields, which yields the empty default for failures.
type Result interface {
	Fields() profile.ProjectProfile
	isResult()
}

// Ok holds fields parsed from a well-formed model response. Fields that
// could not be determined are left empty.
type Ok struct {
	Profile profile.ProjectProfile
	Cached  bool
}

func (o Ok) Fields() profile.ProjectProfile { return o.Profile.Clone() }
func (Ok) isResult()                        {}

type FailureReason string

const (
	ReasonEmptyInput  FailureReason = "empty_input"
	ReasonCallFailed  FailureReason = "call_failed"
	ReasonNoJSON      FailureReason = "no_json"
	ReasonInvalidJSON FailureReason = "invalid_json"
)

// Failed carries the raw model output (when there was any) and the reason
// nothing could be extracted.
type Failed struct {
	Reason FailureReason
	Raw    string
	Err    error
}

func (Failed) Fields() profile.ProjectProfile {
	return profile.ProjectProfile{Outcomes: []string{}}
}
func (Failed) isResult() {}
