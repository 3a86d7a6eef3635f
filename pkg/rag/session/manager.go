package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const (
	logModule      = "SESSION"
	titleWords     = 5
	titleMaxLength = 50
)

// Manager handles session operations
type Manager struct {
	sessions store.SessionStore
	memory   *memory.Adapter
	logger   logger.ILogger
	locks    *keyedMutex
	now      func() time.Time
}

func NewManager(sessions store.SessionStore, mem *memory.Adapter, log logger.ILogger) *Manager {
	return &Manager{
		sessions: sessions,
		memory:   mem,
		logger:   log,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// Lock serializes turns for one session. The returned func releases it.
func (m *Manager) Lock(actorID, sessionID string) func() {
	return m.locks.Lock(store.Key(actorID, sessionID))
}

// LoadOrCreate returns the live session or starts a new one in Upload.
// Empty ids are generated. A new session is seeded from the actor's
// long-term facts and preferences; the bool reports whether it was created.
func (m *Manager) LoadOrCreate(ctx context.Context, actorID, sessionID string) (*store.Session, bool, error) {
	if actorID == "" {
		actorID = uuid.NewString()
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s, err := m.sessions.Get(ctx, store.Key(actorID, sessionID))
	if err == nil {
		return s, false, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return nil, false, err
	}

	now := m.now()
	s = &store.Session{
		ID:               sessionID,
		ActorID:          actorID,
		RuntimeSessionID: uuid.NewString(),
		Phase:            store.PhaseUpload,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.seedFromMemory(ctx, s)

	m.logger.Info(logModule, "Session created", map[string]interface{}{
		"session_id": sessionID,
		"actor_id":   actorID,
		"seeded":     s.Profile.Found(),
	})
	return s, true, nil
}

func (m *Manager) Get(ctx context.Context, actorID, sessionID string) (*store.Session, error) {
	return m.sessions.Get(ctx, store.Key(actorID, sessionID))
}

// Save persists session state
func (m *Manager) Save(ctx context.Context, s *store.Session) error {
	s.UpdatedAt = m.now()
	return m.sessions.Save(ctx, s)
}

func (m *Manager) Delete(ctx context.Context, actorID, sessionID string) error {
	return m.sessions.Delete(ctx, store.Key(actorID, sessionID))
}

// UpdateTitle sets the title from the first user message only.
func (m *Manager) UpdateTitle(s *store.Session, firstMessage string) {
	if s.Title != "" {
		return
	}
	s.Title = GenerateTitle(firstMessage)
}

// Remember persists the given profile fields for the actor. A failure is
// logged and returned for accounting only; the turn goes on with session
// memory.
func (m *Manager) Remember(ctx context.Context, s *store.Session, fields []profile.Field) error {
	if m.memory == nil || !m.memory.Enabled() || len(fields) == 0 {
		return nil
	}
	err := m.memory.RememberProfile(ctx, s.ActorID, s.Profile, fields)
	if err != nil {
		m.logger.Warn(logModule, "Long-term memory write failed, continuing with session memory", map[string]interface{}{
			"session_id": s.ID,
			"error":      err.Error(),
		})
	}
	return err
}

func (m *Manager) seedFromMemory(ctx context.Context, s *store.Session) {
	if m.memory == nil || !m.memory.Enabled() {
		return
	}
	recalled, err := m.memory.RecallProfile(ctx, s.ActorID)
	if err != nil {
		m.logger.Warn(logModule, "Long-term memory unavailable, starting without recall", map[string]interface{}{
			"actor_id": s.ActorID,
			"error":    err.Error(),
		})
		return
	}
	s.Profile = profile.Merge(s.Profile, recalled)
}

// GenerateTitle keeps the first five words of a message, with an ellipsis
// when truncated, capped at 50 characters.
func GenerateTitle(message string) string {
	words := strings.Fields(message)
	if len(words) == 0 {
		return "New conversation"
	}

	title := strings.Join(words[:min(len(words), titleWords)], " ")
	if len(words) > titleWords {
		title += "..."
	}
	if utf8.RuneCountInString(title) > titleMaxLength {
		runes := []rune(title)
		title = string(runes[:titleMaxLength-3]) + "..."
	}
	return title
}

// keyedMutex hands out one mutex per key and forgets it once no caller
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refMutex{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
