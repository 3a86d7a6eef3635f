package contract

import (
	"context"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/entity"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/specification"
)

type MemoryRecordRepository interface {
	// Upsert inserts or replaces the record with the same identity.
	Upsert(ctx context.Context, record *entity.MemoryRecord) error
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.MemoryRecord, error)
	// SearchSimilarWithScore returns records at or above threshold cosine
	// similarity, best first.
	SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, threshold float64, specs ...specification.Specification) ([]*entity.ScoredMemoryRecord, error)
	DeleteByActor(ctx context.Context, actorId string) error
}
