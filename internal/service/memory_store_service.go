package service

import (
	"context"
	"fmt"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/entity"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/specification"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/unitofwork"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/embedding"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
)

// VectorMemoryStore is the pgvector-backed memory.Store.
type VectorMemoryStore struct {
	uowFactory unitofwork.RepositoryFactory
	embedder   embedding.EmbeddingProvider
}

var _ memory.BatchStore = &VectorMemoryStore{}

func NewVectorMemoryStore(uowFactory unitofwork.RepositoryFactory, embedder embedding.EmbeddingProvider) *VectorMemoryStore {
	return &VectorMemoryStore{uowFactory: uowFactory, embedder: embedder}
}

func (s *VectorMemoryStore) Put(ctx context.Context, rec memory.Record) error {
	record, err := s.toRecord(ctx, rec)
	if err != nil {
		return err
	}
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.MemoryRecordRepository().Upsert(ctx, record)
}

// PutBatch embeds every record first so a slow embedder never holds the
// transaction open.
func (s *VectorMemoryStore) PutBatch(ctx context.Context, recs []memory.Record) error {
	records := make([]*entity.MemoryRecord, 0, len(recs))
	for _, rec := range recs {
		record, err := s.toRecord(ctx, rec)
		if err != nil {
			return err
		}
		records = append(records, record)
	}

	return unitofwork.WithinTransaction(ctx, s.uowFactory, func(uow unitofwork.UnitOfWork) error {
		repo := uow.MemoryRecordRepository()
		for _, record := range records {
			if err := repo.Upsert(ctx, record); err != nil {
				return fmt.Errorf("store %s/%s: %w", record.Namespace, record.Key, err)
			}
		}
		return nil
	})
}

func (s *VectorMemoryStore) Search(ctx context.Context, q memory.Query) ([]memory.Memory, error) {
	repo := s.uowFactory.NewUnitOfWork(ctx).MemoryRecordRepository()
	specs := []specification.Specification{
		specification.ByNamespace{Namespace: string(q.Namespace)},
		specification.ByActorID{ActorID: q.ActorID},
		specification.BySessionID{SessionID: q.SessionID},
	}

	if q.Text == "" {
		records, err := repo.FindAll(ctx, append(specs,
			specification.OrderBy{Field: "updated_at", Desc: true},
			specification.Pagination{Limit: q.TopK},
		)...)
		if err != nil {
			return nil, err
		}
		out := make([]memory.Memory, len(records))
		for i, r := range records {
			out[i] = toMemory(r, 1)
		}
		return out, nil
	}

	vector, err := s.embedder.Embed(ctx, q.Text, embedding.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed memory query: %w", err)
	}
	scored, err := repo.SearchSimilarWithScore(ctx, vector, q.TopK, q.Threshold, specs...)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Memory, len(scored))
	for i, sr := range scored {
		out[i] = toMemory(sr.Record, sr.Similarity)
	}
	return out, nil
}

func (s *VectorMemoryStore) toRecord(ctx context.Context, rec memory.Record) (*entity.MemoryRecord, error) {
	vector, err := s.embedder.Embed(ctx, rec.Text, embedding.TaskRetrievalDocument)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	return &entity.MemoryRecord{
		Namespace:      string(rec.Namespace),
		ActorId:        rec.ActorID,
		SessionId:      rec.SessionID,
		Key:            rec.Key,
		Value:          rec.Value,
		Document:       rec.Text,
		EmbeddingValue: vector,
		Metadata: map[string]interface{}{
			"path": rec.Namespace.Path(rec.ActorID, rec.SessionID),
		},
	}, nil
}

func toMemory(r *entity.MemoryRecord, score float64) memory.Memory {
	return memory.Memory{
		Key:       r.Key,
		Value:     r.Value,
		Text:      r.Document,
		Score:     score,
		UpdatedAt: r.UpdatedAt,
	}
}
