package qdrantkb

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/embedding"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/utils"
)

// CollectionWriter is the slice of *qdrant.Client the indexer needs.
type CollectionWriter interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// Passage is one indexed piece of indicator guidance.
type Passage struct {
	Source string
	Text   string
}

// Indexer loads indicator documents into the collection a Client queries.
// Point IDs derive from source and chunk position, so re-indexing a source
// overwrites its earlier points.
type Indexer struct {
	points     CollectionWriter
	embedder   embedding.EmbeddingProvider
	collection string
	chunkSize  int
	overlap    int
	batchSize  int
}

func NewIndexer(points CollectionWriter, embedder embedding.EmbeddingProvider, collection string, chunkSize, overlap int) *Indexer {
	if chunkSize <= 0 {
		chunkSize = 1500
	}
	return &Indexer{
		points:     points,
		embedder:   embedder,
		collection: collection,
		chunkSize:  chunkSize,
		overlap:    overlap,
		batchSize:  64,
	}
}

// EnsureCollection creates the collection with cosine distance when it is
// missing.
func (ix *Indexer) EnsureCollection(ctx context.Context) error {
	existing, err := ix.points.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, name := range existing {
		if name == ix.collection {
			return nil
		}
	}

	err = ix.points.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: ix.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(ix.embedder.Dimensions()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", ix.collection, err)
	}
	return nil
}

// Index chunks, embeds and upserts the passage. It returns the number of
// points written.
func (ix *Indexer) Index(ctx context.Context, p Passage) (int, error) {
	chunks := utils.SplitText(p.Text, ix.chunkSize, ix.overlap)

	var batch []*qdrant.PointStruct
	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := ix.points.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: ix.collection,
			Points:         batch,
		}); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", p.Source, err)
		}
		written += len(batch)
		batch = nil
		return nil
	}

	for i, chunk := range chunks {
		vector, err := ix.embedder.Embed(ctx, chunk, embedding.TaskRetrievalDocument)
		if err != nil {
			return written, fmt.Errorf("embed %s chunk %d: %w", p.Source, i, err)
		}
		batch = append(batch, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.Source, i)),
			Vectors: qdrant.NewVectors(vector...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"content":     chunk,
				"source":      p.Source,
				"chunk_index": int64(i),
			}),
		})
		if len(batch) >= ix.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// PointID is a stable UUID for chunk i of source.
func PointID(source string, i int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", source, i))).String()
}
