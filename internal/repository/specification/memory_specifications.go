package specification

import "gorm.io/gorm"

type ByNamespace struct {
	Namespace string
}

func (s ByNamespace) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("namespace = ?", s.Namespace)
}

type ByActorID struct {
	ActorID string
}

func (s ByActorID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("actor_id = ?", s.ActorID)
}

// BySessionID is a no-op for an empty id so callers can pass it through.
type BySessionID struct {
	SessionID string
}

func (s BySessionID) Apply(db *gorm.DB) *gorm.DB {
	if s.SessionID == "" {
		return db
	}
	return db.Where("session_id = ?", s.SessionID)
}
