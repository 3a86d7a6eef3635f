package events

import (
	"context"
	"encoding/json"
	"time"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "INTAKE_COMPLETED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

const (
	TypeIntakeCompleted          = "INTAKE_COMPLETED"
	TypeRecommendationsDelivered = "RECOMMENDATIONS_DELIVERED"
	TypeRetrievalFailed          = "RETRIEVAL_FAILED"
	TypeDocumentUploaded         = "DOCUMENT_UPLOADED"
	TypeSessionSummarized        = "SESSION_SUMMARIZED"
)

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now().UTC()}
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// Publisher delivers events. Publishing is best effort for callers: a
// failed publish never fails the operation that raised the event.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Envelope is the wire form shared by every transport.
type Envelope struct {
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data"`
}

func Marshal(event Event) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:       event.EventType(),
		OccurredAt: event.Timestamp(),
		Data:       event.Payload(),
	})
}

func Unmarshal(raw []byte) (BaseEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return BaseEvent{}, err
	}
	return BaseEvent{Type: env.Type, Data: env.Data, OccurredAt: env.OccurredAt}, nil
}
