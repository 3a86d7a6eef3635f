package implementation

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/entity"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/mapper"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/model"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/contract"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/specification"
)

type MemoryRecordRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.MemoryRecordMapper
}

func NewMemoryRecordRepository(db *gorm.DB) contract.MemoryRecordRepository {
	return &MemoryRecordRepositoryImpl{
		db:     db,
		mapper: mapper.NewMemoryRecordMapper(),
	}
}

func (r *MemoryRecordRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *MemoryRecordRepositoryImpl) Upsert(ctx context.Context, record *entity.MemoryRecord) error {
	m := r.mapper.ToModel(record)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "namespace"}, {Name: "actor_id"}, {Name: "session_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value", "document", "embedding_value", "metadata", "updated_at",
		}),
	}).Create(m).Error
	if err != nil {
		return err
	}
	*record = *r.mapper.ToEntity(m)
	return nil
}

func (r *MemoryRecordRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.MemoryRecord, error) {
	var models []*model.MemoryRecord
	query := r.applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *MemoryRecordRepositoryImpl) SearchSimilarWithScore(ctx context.Context, embedding []float32, limit int, threshold float64, specs ...specification.Specification) ([]*entity.ScoredMemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}

	// pgvector cosine distance is 1 - cosine similarity
	type result struct {
		model.MemoryRecord
		Similarity float64
	}
	var results []result

	queryVector := pgvector.NewVector(embedding)

	query := r.db.WithContext(ctx).
		Table("memory_records").
		Select("memory_records.*, 1 - (embedding_value <=> ?) as similarity", queryVector)
	query = r.applySpecifications(query, specs...)

	err := query.
		Where("1 - (embedding_value <=> ?) >= ?", queryVector, threshold).
		Order("similarity DESC").
		Limit(limit).
		Scan(&results).Error
	if err != nil {
		return nil, err
	}

	scored := make([]*entity.ScoredMemoryRecord, len(results))
	for i, res := range results {
		scored[i] = &entity.ScoredMemoryRecord{
			Record:     r.mapper.ToEntity(&res.MemoryRecord),
			Similarity: res.Similarity,
		}
	}
	return scored, nil
}

func (r *MemoryRecordRepositoryImpl) DeleteByActor(ctx context.Context, actorId string) error {
	return r.db.WithContext(ctx).Where("actor_id = ?", actorId).Delete(&model.MemoryRecord{}).Error
}
