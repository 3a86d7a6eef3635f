package memory

import "context"

// NoopStore is used when no backend is configured.
type NoopStore struct{}

func (NoopStore) Put(context.Context, Record) error { return ErrUnavailable }

func (NoopStore) Search(context.Context, Query) ([]Memory, error) { return nil, ErrUnavailable }
