package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// MemoryRecord is one long-term memory. The unique index makes writes to
// the same (namespace, actor, session, key) an upsert.
type MemoryRecord struct {
	Id             uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Namespace      string            `gorm:"type:varchar(32);not null;uniqueIndex:idx_memory_identity,priority:1"`
	ActorId        string            `gorm:"type:varchar(255);not null;uniqueIndex:idx_memory_identity,priority:2;index"`
	SessionId      string            `gorm:"type:varchar(255);not null;default:'';uniqueIndex:idx_memory_identity,priority:3"`
	Key            string            `gorm:"type:varchar(64);not null;uniqueIndex:idx_memory_identity,priority:4"`
	Value          string            `gorm:"type:text"`
	Document       string            `gorm:"type:text"`
	EmbeddingValue pgvector.Vector   `gorm:"type:vector(768)"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime"`
}

func (MemoryRecord) TableName() string {
	return "memory_records"
}
