package dto

import (
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/recommendation"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ProfileInput carries explicit field values. Commodity is an alias for
// ProjectType.
type ProfileInput struct {
	Location    string   `json:"location,omitempty" validate:"max=200"`
	ProjectType string   `json:"project_type,omitempty" validate:"max=200"`
	Commodity   string   `json:"commodity,omitempty" validate:"max=200"`
	Outcomes    []string `json:"outcomes,omitempty" validate:"max=20,dive,max=200"`
	Budget      string   `json:"budget,omitempty" validate:"max=200"`
	Capacity    string   `json:"capacity,omitempty" validate:"max=200"`
}

func (in *ProfileInput) ToProfile() profile.ProjectProfile {
	var p profile.ProjectProfile
	if in == nil {
		return p
	}
	p.Set(profile.FieldLocation, in.Location)
	p.Set(profile.FieldProjectType, in.Commodity)
	p.Set(profile.FieldProjectType, in.ProjectType)
	p.Outcomes = append(p.Outcomes, in.Outcomes...)
	p.Set(profile.FieldBudget, in.Budget)
	p.Set(profile.FieldCapacity, in.Capacity)
	return p
}

type TurnRequest struct {
	Prompt      string        `json:"prompt" validate:"max=20000"`
	SessionID   string        `json:"session_id,omitempty" validate:"max=128"`
	ActorID     string        `json:"actor_id,omitempty" validate:"max=128"`
	FileContent string        `json:"file_content,omitempty"`
	Profile     *ProfileInput `json:"profile,omitempty"`
	// Topic narrows follow-up retrieval in Chat: outcome, budget or location.
	Topic      string `json:"topic,omitempty" validate:"omitempty,oneof=outcome budget location"`
	TopicValue string `json:"topic_value,omitempty" validate:"max=200"`
}

type TurnResponse struct {
	Result     string             `json:"result"`
	Status     string             `json:"status"`
	SessionID  string             `json:"session_id"`
	ActorID    string             `json:"actor_id"`
	Phase      string             `json:"phase,omitempty"`
	Missing    []string           `json:"missing,omitempty"`
	Indicators []retrieval.Result `json:"indicators,omitempty"`
	ErrorType  string             `json:"error_type,omitempty"`
	Retryable  bool               `json:"retryable,omitempty"`
	Hint       string             `json:"hint,omitempty"`
}

type UploadRequest struct {
	Data      []byte
	Base64    bool
	Filename  string
	SessionID string
	ActorID   string
}

// UploadFound lists the present fields of an uploaded document. Clients of
// the upload endpoint read the project type as "commodity"; both keys are
// sent.
func UploadFound(p profile.ProjectProfile) map[string]interface{} {
	found := p.Found()
	if v, ok := found[string(profile.FieldProjectType)]; ok {
		found["commodity"] = v
	}
	return found
}

type UploadResponse struct {
	Found       map[string]interface{} `json:"found"`
	Missing     []string               `json:"missing"`
	DocumentURI string                 `json:"document_uri,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	ActorID     string                 `json:"actor_id,omitempty"`
	Phase       string                 `json:"phase,omitempty"`
	Message     string                 `json:"message"`
}

type SessionResponse struct {
	SessionID        string                 `json:"session_id"`
	ActorID          string                 `json:"actor_id"`
	RuntimeSessionID string                 `json:"runtime_session_id"`
	Title            string                 `json:"title"`
	Phase            string                 `json:"phase"`
	Profile          profile.ProjectProfile `json:"profile"`
	Missing          []string               `json:"missing"`
	Complete         bool                   `json:"complete"`
	History          []llm.Message          `json:"history"`
	Indicators       []retrieval.Result     `json:"indicators"`
	DocumentURI      string                 `json:"document_uri,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type SetFieldRequest struct {
	Field string `json:"field" validate:"required,oneof=location project_type commodity outcomes budget capacity"`
	Value string `json:"value" validate:"required,max=200"`
}

type RecommendationsResponse struct {
	SessionID       string                                   `json:"session_id"`
	Recommendations []recommendation.IndicatorRecommendation `json:"recommendations"`
}
