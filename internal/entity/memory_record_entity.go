package entity

import (
	"time"

	"github.com/google/uuid"
)

type MemoryRecord struct {
	Id             uuid.UUID
	Namespace      string
	ActorId        string
	SessionId      string
	Key            string
	Value          string
	Document       string
	EmbeddingValue []float32
	Metadata       map[string]interface{}
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type ScoredMemoryRecord struct {
	Record     *MemoryRecord
	Similarity float64
}
