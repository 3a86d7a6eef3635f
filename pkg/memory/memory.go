package memory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable means the long-term store is missing or unreachable.
// Callers degrade to session-only memory.
var ErrUnavailable = errors.New("long-term memory unavailable")

type Namespace string

const (
	NamespaceFacts       Namespace = "facts"
	NamespacePreferences Namespace = "preferences"
	NamespaceSummaries   Namespace = "summaries"
)

type NamespaceConfig struct {
	TopK      int
	Threshold float64
}

// DefaultNamespaces: facts are recalled broadly, preferences conservatively.
var DefaultNamespaces = map[Namespace]NamespaceConfig{
	NamespaceFacts:       {TopK: 10, Threshold: 0.5},
	NamespacePreferences: {TopK: 5, Threshold: 0.7},
	NamespaceSummaries:   {TopK: 5, Threshold: 0.6},
}

// Path renders the namespace scope, e.g. /facts/{actor} or
// /summaries/{actor}/{session}.
func (n Namespace) Path(actorID, sessionID string) string {
	if n == NamespaceSummaries && sessionID != "" {
		return fmt.Sprintf("/%s/%s/%s", n, actorID, sessionID)
	}
	return fmt.Sprintf("/%s/%s", n, actorID)
}

func (n Namespace) Valid() bool {
	_, ok := DefaultNamespaces[n]
	return ok
}

// Record is one durable memory. Within a namespace, (ActorID, SessionID,
// Key) identifies a record; writing the same identity replaces it.
type Record struct {
	Namespace Namespace
	ActorID   string
	SessionID string
	Key       string
	Value     string
	Text      string
	UpdatedAt time.Time
}

type Memory struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Text      string    `json:"text"`
	Score     float64   `json:"score"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query selects memories. An empty Text recalls the most recent records
// with score 1. SessionID narrows summaries to one session.
type Query struct {
	Namespace Namespace
	ActorID   string
	SessionID string
	Text      string
	TopK      int
	Threshold float64
}

type Store interface {
	Put(ctx context.Context, rec Record) error
	Search(ctx context.Context, q Query) ([]Memory, error)
}

// BatchStore writes several records atomically: all of them land or none.
type BatchStore interface {
	Store
	PutBatch(ctx context.Context, recs []Record) error
}
