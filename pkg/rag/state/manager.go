package state

import (
	"fmt"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

// transitions lists the legal edges. Retrieve -> Ask is the only
// backward edge; Chat loops on itself.
var transitions = map[store.Phase][]store.Phase{
	store.PhaseUpload:   {store.PhaseExtract, store.PhaseAsk},
	store.PhaseExtract:  {store.PhaseAsk},
	store.PhaseAsk:      {store.PhaseAsk, store.PhaseRetrieve},
	store.PhaseRetrieve: {store.PhaseChat, store.PhaseAsk},
	store.PhaseChat:     {store.PhaseChat},
}

type InvalidTransitionError struct {
	From store.Phase
	To   store.Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition %s -> %s", e.From, e.To)
}

func CanTransition(from, to store.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Manager handles session phase transitions
type Manager struct {
	logger logger.ILogger
}

func NewManager(logger logger.ILogger) *Manager {
	return &Manager{logger: logger}
}

// Transition moves the session to the given phase. The session is left
// untouched when the edge is not allowed.
func (m *Manager) Transition(session *store.Session, to store.Phase) error {
	from := session.Phase
	if from == "" {
		from = store.PhaseUpload
	}
	if !CanTransition(from, to) {
		m.logger.Warn("STATE", "Rejected phase transition", map[string]interface{}{
			"session_id": session.ID,
			"from":       from,
			"to":         to,
		})
		return &InvalidTransitionError{From: from, To: to}
	}

	session.Phase = to
	if from != to {
		m.logger.Info("STATE", "Phase transition", map[string]interface{}{
			"session_id": session.ID,
			"from":       from,
			"to":         to,
		})
	}
	return nil
}

// TransitionToExtract is used when a document arrives in Upload.
func (m *Manager) TransitionToExtract(session *store.Session) error {
	return m.Transition(session, store.PhaseExtract)
}

func (m *Manager) TransitionToAsk(session *store.Session) error {
	return m.Transition(session, store.PhaseAsk)
}

func (m *Manager) TransitionToRetrieve(session *store.Session) error {
	return m.Transition(session, store.PhaseRetrieve)
}

func (m *Manager) TransitionToChat(session *store.Session) error {
	return m.Transition(session, store.PhaseChat)
}
