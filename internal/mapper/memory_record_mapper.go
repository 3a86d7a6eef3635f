package mapper

import (
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/entity"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/model"
)

type MemoryRecordMapper struct{}

func NewMemoryRecordMapper() *MemoryRecordMapper {
	return &MemoryRecordMapper{}
}

func (m *MemoryRecordMapper) ToEntity(r *model.MemoryRecord) *entity.MemoryRecord {
	if r == nil {
		return nil
	}
	return &entity.MemoryRecord{
		Id:             r.Id,
		Namespace:      r.Namespace,
		ActorId:        r.ActorId,
		SessionId:      r.SessionId,
		Key:            r.Key,
		Value:          r.Value,
		Document:       r.Document,
		EmbeddingValue: r.EmbeddingValue.Slice(),
		Metadata:       map[string]interface{}(r.Metadata),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (m *MemoryRecordMapper) ToModel(e *entity.MemoryRecord) *model.MemoryRecord {
	if e == nil {
		return nil
	}
	return &model.MemoryRecord{
		Id:             e.Id,
		Namespace:      e.Namespace,
		ActorId:        e.ActorId,
		SessionId:      e.SessionId,
		Key:            e.Key,
		Value:          e.Value,
		Document:       e.Document,
		EmbeddingValue: pgvector.NewVector(e.EmbeddingValue),
		Metadata:       datatypes.JSONMap(e.Metadata),
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func (m *MemoryRecordMapper) ToEntities(records []*model.MemoryRecord) []*entity.MemoryRecord {
	entities := make([]*entity.MemoryRecord, len(records))
	for i, r := range records {
		entities[i] = m.ToEntity(r)
	}
	return entities
}
