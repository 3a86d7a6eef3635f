package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
)

const logModule = "MEMORY"

// Adapter is the long-term memory surface the conversation layer uses.
// Every failure is reported as ErrUnavailable so callers can degrade.
type Adapter struct {
	store      Store
	logger     logger.ILogger
	namespaces map[Namespace]NamespaceConfig
}

func NewAdapter(store Store, log logger.ILogger) *Adapter {
	if store == nil {
		store = NoopStore{}
	}
	namespaces := make(map[Namespace]NamespaceConfig, len(DefaultNamespaces))
	for ns, cfg := range DefaultNamespaces {
		namespaces[ns] = cfg
	}
	return &Adapter{store: store, logger: log, namespaces: namespaces}
}

// Enabled is false when no backend is configured.
func (a *Adapter) Enabled() bool {
	_, noop := a.store.(NoopStore)
	return !noop
}

func (a *Adapter) NamespaceConfig(ns Namespace) NamespaceConfig {
	return a.namespaces[ns]
}

func (a *Adapter) StoreFact(ctx context.Context, actorID, key, value string) error {
	return a.put(ctx, Record{Namespace: NamespaceFacts, ActorID: actorID, Key: key, Value: value, Text: key + ": " + value})
}

func (a *Adapter) StorePreference(ctx context.Context, actorID, key, value string) error {
	return a.put(ctx, Record{Namespace: NamespacePreferences, ActorID: actorID, Key: key, Value: value, Text: key + ": " + value})
}

func (a *Adapter) StoreSummary(ctx context.Context, actorID, sessionID, summary string) error {
	return a.put(ctx, Record{Namespace: NamespaceSummaries, ActorID: actorID, SessionID: sessionID, Key: "summary", Value: summary, Text: summary})
}

// Retrieve searches one namespace. A zero TopK or Threshold takes the
// namespace default.
func (a *Adapter) Retrieve(ctx context.Context, q Query) ([]Memory, error) {
	if !q.Namespace.Valid() {
		return nil, fmt.Errorf("unknown memory namespace %q", q.Namespace)
	}
	if strings.TrimSpace(q.ActorID) == "" {
		return nil, errors.New("actor id is required")
	}
	cfg := a.namespaces[q.Namespace]
	if q.TopK <= 0 {
		q.TopK = cfg.TopK
	}
	if q.Threshold <= 0 {
		q.Threshold = cfg.Threshold
	}

	memories, err := a.store.Search(ctx, q)
	if err != nil {
		return nil, unavailable(err)
	}
	return memories, nil
}

// NamespaceFor places a profile field: what the project is goes to facts,
// how the user wants to work goes to preferences.
func NamespaceFor(f profile.Field) Namespace {
	switch f {
	case profile.FieldBudget, profile.FieldCapacity:
		return NamespacePreferences
	default:
		return NamespaceFacts
	}
}

// RememberProfile persists the given fields of p when present. Stores that
// support batches get every field in one write.
func (a *Adapter) RememberProfile(ctx context.Context, actorID string, p profile.ProjectProfile, fields []profile.Field) error {
	var recs []Record
	for _, f := range fields {
		if !p.IsPresent(f) {
			continue
		}
		key, value := string(f), p.Value(f)
		recs = append(recs, Record{Namespace: NamespaceFor(f), ActorID: actorID, Key: key, Value: value, Text: key + ": " + value})
	}
	if len(recs) == 0 {
		return nil
	}

	if batch, ok := a.store.(BatchStore); ok {
		if strings.TrimSpace(actorID) == "" {
			return errors.New("actor id is required")
		}
		if err := batch.PutBatch(ctx, recs); err != nil {
			return unavailable(err)
		}
		a.logger.Debug(logModule, "Profile stored", map[string]interface{}{
			"actor_id": actorID,
			"fields":   len(recs),
		})
		return nil
	}

	var errs []error
	for _, rec := range recs {
		if err := a.put(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecallProfile rebuilds what is known about an actor's project from
// facts and preferences.
func (a *Adapter) RecallProfile(ctx context.Context, actorID string) (profile.ProjectProfile, error) {
	var p profile.ProjectProfile
	for _, ns := range []Namespace{NamespaceFacts, NamespacePreferences} {
		memories, err := a.Retrieve(ctx, Query{Namespace: ns, ActorID: actorID})
		if err != nil {
			return profile.ProjectProfile{}, err
		}
		// newest first; keep the first value seen per field
		for _, m := range memories {
			f, ok := profile.ParseField(m.Key)
			if !ok || p.IsPresent(f) {
				continue
			}
			p.Set(f, m.Value)
		}
	}
	return p, nil
}

func (a *Adapter) put(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ActorID) == "" {
		return errors.New("actor id is required")
	}
	if strings.TrimSpace(rec.Value) == "" {
		return nil
	}
	if err := a.store.Put(ctx, rec); err != nil {
		return unavailable(err)
	}
	a.logger.Debug(logModule, "Memory stored", map[string]interface{}{
		"namespace": rec.Namespace.Path(rec.ActorID, rec.SessionID),
		"key":       rec.Key,
	})
	return nil
}

func unavailable(err error) error {
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
