package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

type recordKey struct {
	namespace Namespace
	actorID   string
	sessionID string
	key       string
}

// InMemoryStore keeps records for the process lifetime and scores by term
// overlap. It is the default backend when no database is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	now     func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[recordKey]Record),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Put(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	s.records[recordKey{rec.Namespace, rec.ActorID, rec.SessionID, rec.Key}] = rec
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, q Query) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := tokenize(q.Text)
	var out []Memory
	for k, rec := range s.records {
		if k.namespace != q.Namespace || k.actorID != q.ActorID {
			continue
		}
		if q.SessionID != "" && k.sessionID != q.SessionID {
			continue
		}

		score := 1.0
		if len(terms) > 0 {
			score = overlap(terms, tokenize(rec.Text))
		}
		if score < q.Threshold {
			continue
		}
		out = append(out, Memory{Key: rec.Key, Value: rec.Value, Text: rec.Text, Score: score, UpdatedAt: rec.UpdatedAt})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	if q.TopK > 0 && len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

func tokenize(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		terms[w] = struct{}{}
	}
	return terms
}

// overlap is the share of query terms found in the document.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for t := range query {
		if _, ok := doc[t]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}
