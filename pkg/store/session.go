package store

import (
	"context"
	"errors"
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

type Phase string

const (
	PhaseUpload   Phase = "UPLOAD"
	PhaseExtract  Phase = "EXTRACT"
	PhaseAsk      Phase = "ASK"
	PhaseRetrieve Phase = "RETRIEVE"
	PhaseChat     Phase = "CHAT"
)

// Session is the short-term state of one conversation.
type Session struct {
	ID               string                 `json:"id"`
	ActorID          string                 `json:"actor_id"`
	RuntimeSessionID string                 `json:"runtime_session_id"`
	Phase            Phase                  `json:"phase"`
	Profile          profile.ProjectProfile `json:"profile"`
	History          []llm.Message          `json:"history"`
	Indicators       []retrieval.Result     `json:"indicators"`
	Title            string                 `json:"title"`
	DocumentURI      string                 `json:"document_uri,omitempty"`

	// Metadata for last interaction
	LastQuery  string `json:"last_query"`
	LastOutput string `json:"last_output,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key is the cache key for a session. Sessions are scoped by actor so two
// actors reusing a session id never share state.
func Key(actorID, sessionID string) string {
	return actorID + ":" + sessionID
}

func (s *Session) Key() string {
	return Key(s.ActorID, s.ID)
}

// Append adds a message to the history.
func (s *Session) Append(role, content string) {
	s.History = append(s.History, llm.Message{Role: role, Content: content})
}

// Clone returns a deep copy safe to hand out to readers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Profile = s.Profile.Clone()
	c.History = append([]llm.Message(nil), s.History...)
	c.Indicators = append([]retrieval.Result(nil), s.Indicators...)
	return &c
}

var ErrSessionNotFound = errors.New("session not found")

// SessionStore holds live sessions. Implementations enforce their own
// eviction policy; a Get after eviction reports ErrSessionNotFound.
type SessionStore interface {
	Get(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, key string) error
}

// EvictionListener is notified when a store drops a session on its own,
// with reason "expired" or "capacity".
type EvictionListener func(session *Session, reason string)
