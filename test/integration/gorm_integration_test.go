package integration

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/model"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/repository/unitofwork"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/service"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/database"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/memory"
)

// constantEmbedder keeps the test independent of a running model. It fills
// the 768-wide column deterministically from the text.
type constantEmbedder struct{}

func (constantEmbedder) Embed(_ context.Context, text string, _ string) ([]float32, error) {
	v := make([]float32, 768)
	for i, r := range text {
		v[i%len(v)] += float32(r % 7)
	}
	v[0]++
	return v, nil
}

func (constantEmbedder) Dimensions() int { return 768 }

func TestGormConnection(t *testing.T) {
	// Load .env from root
	err := godotenv.Load("../../.env")
	if err != nil {
		log.Println("No .env file found, using system env")
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		t.Skip("Skipping integration test: DB_CONNECTION_STRING not set")
	}

	gormDB, err := database.NewGormDBFromDSN(dsn)
	require.NoError(t, err, "Failed to connect to DB")

	sqlDB, _ := gormDB.DB()
	require.NoError(t, sqlDB.Ping())

	require.NoError(t, gormDB.Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error)
	require.NoError(t, gormDB.AutoMigrate(&model.MemoryRecord{}))

	ctx := context.Background()
	uowFactory := unitofwork.NewRepositoryFactory(gormDB)
	actorID := "integration-" + uuid.NewString()
	t.Cleanup(func() {
		_ = uowFactory.NewUnitOfWork(ctx).MemoryRecordRepository().DeleteByActor(ctx, actorID)
	})

	store := service.NewVectorMemoryStore(uowFactory, constantEmbedder{})
	adapter := memory.NewAdapter(store, logger.NewNop())

	t.Run("Batch upsert replaces by identity", func(t *testing.T) {
		require.NoError(t, store.PutBatch(ctx, []memory.Record{
			{Namespace: memory.NamespaceFacts, ActorID: actorID, Key: "location", Value: "Chad", Text: "location: Chad"},
			{Namespace: memory.NamespacePreferences, ActorID: actorID, Key: "budget", Value: "low", Text: "budget: low"},
		}))
		require.NoError(t, store.Put(ctx, memory.Record{
			Namespace: memory.NamespaceFacts, ActorID: actorID, Key: "location", Value: "Kenya", Text: "location: Kenya",
		}))

		facts, err := store.Search(ctx, memory.Query{Namespace: memory.NamespaceFacts, ActorID: actorID, TopK: 10})
		require.NoError(t, err)
		require.Len(t, facts, 1)
		assert.Equal(t, "Kenya", facts[0].Value)
	})

	t.Run("Similarity search stays in namespace", func(t *testing.T) {
		prefs, err := store.Search(ctx, memory.Query{
			Namespace: memory.NamespacePreferences, ActorID: actorID, Text: "budget: low", TopK: 5, Threshold: 0.5,
		})
		require.NoError(t, err)
		require.NotEmpty(t, prefs)
		assert.Equal(t, "budget", prefs[0].Key)
		assert.Greater(t, prefs[0].Score, 0.99)
	})

	t.Run("Adapter recalls profile", func(t *testing.T) {
		recalled, err := adapter.RecallProfile(ctx, actorID)
		require.NoError(t, err)
		assert.Equal(t, "Kenya", recalled.Location)
		assert.Equal(t, "low", recalled.Budget)
	})
}
