package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Put(context.Context, Record) error { return errors.New("connection refused") }
func (failingStore) Search(context.Context, Query) ([]Memory, error) {
	return nil, errors.New("connection refused")
}

func TestNamespacePath(t *testing.T) {
	assert.Equal(t, "/facts/actor-1", NamespaceFacts.Path("actor-1", "s-1"))
	assert.Equal(t, "/preferences/actor-1", NamespacePreferences.Path("actor-1", ""))
	assert.Equal(t, "/summaries/actor-1/s-1", NamespaceSummaries.Path("actor-1", "s-1"))
}

func TestDefaultNamespaces(t *testing.T) {
	assert.Equal(t, NamespaceConfig{TopK: 10, Threshold: 0.5}, DefaultNamespaces[NamespaceFacts])
	assert.Equal(t, NamespaceConfig{TopK: 5, Threshold: 0.7}, DefaultNamespaces[NamespacePreferences])
}

func TestAdapter_RememberAndRecallProfile(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewInMemoryStore(), logger.NewNop())

	p := profile.ProjectProfile{
		Location:    "Chad",
		ProjectType: "cotton farming",
		Outcomes:    []string{"soil health", "income"},
		Budget:      "low",
	}
	require.NoError(t, a.RememberProfile(ctx, "actor-1", p, profile.RequiredFields))

	recalled, err := a.RecallProfile(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "Chad", recalled.Location)
	assert.Equal(t, "cotton farming", recalled.ProjectType)
	assert.Equal(t, []string{"soil health", "income"}, recalled.Outcomes)
	assert.Equal(t, "low", recalled.Budget)
	assert.False(t, recalled.IsPresent(profile.FieldCapacity))

	other, err := a.RecallProfile(ctx, "actor-2")
	require.NoError(t, err)
	assert.Empty(t, other.Found())
}

func TestAdapter_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewInMemoryStore(), logger.NewNop())

	require.NoError(t, a.StoreFact(ctx, "actor-1", "location", "Chad"))
	require.NoError(t, a.StorePreference(ctx, "actor-1", "budget", "low"))
	require.NoError(t, a.StoreSummary(ctx, "actor-1", "s-1", "Cotton project in Chad, recommended soil carbon."))

	facts, err := a.Retrieve(ctx, Query{Namespace: NamespaceFacts, ActorID: "actor-1"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "location", facts[0].Key)

	prefs, err := a.Retrieve(ctx, Query{Namespace: NamespacePreferences, ActorID: "actor-1", Text: "budget"})
	require.NoError(t, err)
	require.Len(t, prefs, 1)
	assert.Equal(t, "low", prefs[0].Value)

	summaries, err := a.Retrieve(ctx, Query{Namespace: NamespaceSummaries, ActorID: "actor-1", SessionID: "s-2"})
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestAdapter_UpsertReplacesValue(t *testing.T) {
	ctx := context.Background()
	a := NewAdapter(NewInMemoryStore(), logger.NewNop())

	require.NoError(t, a.StoreFact(ctx, "actor-1", "location", "Chad"))
	require.NoError(t, a.StoreFact(ctx, "actor-1", "location", "Kenya"))

	facts, err := a.Retrieve(ctx, Query{Namespace: NamespaceFacts, ActorID: "actor-1"})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "Kenya", facts[0].Value)
}

func TestAdapter_ThresholdAndTopK(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	a := NewAdapter(store, logger.NewNop())

	for i, v := range []string{"cotton farming", "coffee farming", "cassava processing"} {
		key := []string{"a", "b", "c"}[i]
		require.NoError(t, store.Put(ctx, Record{Namespace: NamespaceFacts, ActorID: "x", Key: key, Value: v, Text: v, UpdatedAt: time.Unix(int64(i), 0)}))
	}

	got, err := a.Retrieve(ctx, Query{Namespace: NamespaceFacts, ActorID: "x", Text: "cotton farming"})
	require.NoError(t, err)
	require.Len(t, got, 2, "cassava shares no terms and falls under 0.5")
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 0.5, got[1].Score)

	got, err = a.Retrieve(ctx, Query{Namespace: NamespaceFacts, ActorID: "x", TopK: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c", got[0].Key, "empty query recalls newest first")
}

func TestAdapter_Unavailable(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		adapter *Adapter
		enabled bool
	}{
		{name: "not configured", adapter: NewAdapter(nil, logger.NewNop()), enabled: false},
		{name: "unreachable", adapter: NewAdapter(failingStore{}, logger.NewNop()), enabled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.enabled, tt.adapter.Enabled())
			assert.ErrorIs(t, tt.adapter.StoreFact(ctx, "a", "location", "Chad"), ErrUnavailable)
			_, err := tt.adapter.RecallProfile(ctx, "a")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestAdapter_Validation(t *testing.T) {
	a := NewAdapter(NewInMemoryStore(), logger.NewNop())

	assert.Error(t, a.StoreFact(context.Background(), " ", "location", "Chad"))
	_, err := a.Retrieve(context.Background(), Query{Namespace: "secrets", ActorID: "a"})
	assert.Error(t, err)
	assert.NoError(t, a.StoreFact(context.Background(), "a", "location", "  "), "blank values are skipped")
}

type batchingStore struct {
	*InMemoryStore
	batches [][]Record
	err     error
}

func (b *batchingStore) PutBatch(ctx context.Context, recs []Record) error {
	if b.err != nil {
		return b.err
	}
	b.batches = append(b.batches, recs)
	for _, rec := range recs {
		if err := b.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func TestAdapter_RememberProfileUsesBatch(t *testing.T) {
	ctx := context.Background()
	store := &batchingStore{InMemoryStore: NewInMemoryStore()}
	a := NewAdapter(store, logger.NewNop())

	p := profile.ProjectProfile{Location: "Chad", Budget: "low"}
	require.NoError(t, a.RememberProfile(ctx, "actor-1", p, profile.RequiredFields))

	require.Len(t, store.batches, 1)
	require.Len(t, store.batches[0], 2)
	assert.Equal(t, NamespaceFacts, store.batches[0][0].Namespace)
	assert.Equal(t, NamespacePreferences, store.batches[0][1].Namespace)

	recalled, err := a.RecallProfile(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, "Chad", recalled.Location)
	assert.Equal(t, "low", recalled.Budget)
}

func TestAdapter_RememberProfileBatchFailure(t *testing.T) {
	store := &batchingStore{InMemoryStore: NewInMemoryStore(), err: errors.New("deadlock detected")}
	a := NewAdapter(store, logger.NewNop())

	err := a.RememberProfile(context.Background(), "actor-1", profile.ProjectProfile{Location: "Chad"}, profile.RequiredFields)
	assert.ErrorIs(t, err, ErrUnavailable)

	assert.NoError(t, a.RememberProfile(context.Background(), "actor-1", profile.ProjectProfile{}, profile.RequiredFields), "nothing to store")
}
