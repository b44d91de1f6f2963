package token

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is a mutex-guarded in-memory Store for tests and DSN-less
// development mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	s.records[rec.ID] = &stored
	return nil
}

func (s *MemoryStore) Find(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrInvalid
	}
	out := *rec
	if rec.ConsumedAt != nil {
		t := *rec.ConsumedAt
		out.ConsumedAt = &t
	}
	return &out, nil
}

func (s *MemoryStore) MarkConsumed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.ConsumedAt != nil {
		return ErrInvalid
	}
	t := at
	rec.ConsumedAt = &t
	return nil
}
