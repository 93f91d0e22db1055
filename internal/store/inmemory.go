package store

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps summaries in-process for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]Record)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) Put(_ context.Context, rec Record, policy WritePolicy) (PutResult, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, exists := s.records[rec.Key]
	if !policy.allows(existing, exists) {
		return PutResult{Record: existing}, nil
	}
	s.records[rec.Key] = rec
	return PutResult{Record: rec, Written: true}, nil
}

func (s *InMemoryStore) Lookup(_ context.Context, keys []string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, k := range dedupKeys(keys) {
		if rec, ok := s.records[k]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Kind() string { return "memory" }

func (s *InMemoryStore) Close() error { return nil }
