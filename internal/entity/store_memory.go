package entity

import (
	"context"
	"sort"
	"sync"

	"captrack/pkg/domain"
	"captrack/pkg/platform/sentinel"
)

// InMemoryStore keeps records in a map guarded by a RWMutex. Used by unit
// tests and the dev-mode server; production runs the postgres stores.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[domain.Ref]Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[domain.Ref]Record)}
}

func (s *InMemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := rec.Meta().Ref()
	if _, exists := s.records[ref]; exists {
		return sentinel.ErrConflict
	}
	s.records[ref] = rec.Clone()
	return nil
}

func (s *InMemoryStore) Update(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := rec.Meta().Ref()
	if _, exists := s.records[ref]; !exists {
		return sentinel.ErrNotFound
	}
	s.records[ref] = rec.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, ref domain.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[ref]; !exists {
		return sentinel.ErrNotFound
	}
	delete(s.records, ref)
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, ref domain.Ref) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[ref]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) FindMeta(ctx context.Context, ref domain.Ref) (domain.Meta, error) {
	rec, err := s.Find(ctx, ref)
	if err != nil {
		return domain.Meta{}, err
	}
	return rec.Meta(), nil
}

func (s *InMemoryStore) List(_ context.Context, t domain.RecordType) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for ref, rec := range s.records {
		if ref.Type == t {
			out = append(out, rec.Clone())
		}
	}
	// Map iteration order is random; sort for deterministic listings.
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta().ID.String() < out[j].Meta().ID.String()
	})
	return out, nil
}
