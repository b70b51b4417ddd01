package access

import (
	"context"
	"sort"
	"sync"
	"time"

	"captrack/pkg/domain"
	"captrack/pkg/platform/sentinel"
)

// InMemoryStore keeps grants in maps guarded by a RWMutex. Duplicate grants
// (same grantee, level, record) are tolerated: decisions are existential, so
// duplicates are harmless and revocation removes one id at a time.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[domain.GrantID]Grant
	byRecord map[domain.Ref][]domain.GrantID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[domain.GrantID]Grant),
		byRecord: make(map[domain.Ref][]domain.GrantID),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, g Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[g.ID]; exists {
		return sentinel.ErrConflict
	}
	ref := domain.Ref{Type: g.RecordType, ID: g.RecordID}
	s.byID[g.ID] = g
	s.byRecord[ref] = append(s.byRecord[ref], g.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.GrantID) (Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, exists := s.byID[id]
	if !exists {
		return Grant{}, sentinel.ErrNotFound
	}
	return g, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id domain.GrantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, exists := s.byID[id]
	if !exists {
		return sentinel.ErrNotFound
	}
	delete(s.byID, id)
	ref := domain.Ref{Type: g.RecordType, ID: g.RecordID}
	ids := s.byRecord[ref]
	for i, gid := range ids {
		if gid == id {
			s.byRecord[ref] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) ListForRecord(_ context.Context, ref domain.Ref, at time.Time) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeGrantsLocked(ref, at), nil
}

func (s *InMemoryStore) ListForRecords(_ context.Context, refs []domain.Ref, at time.Time) (map[domain.Ref][]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.Ref][]Grant, len(refs))
	for _, ref := range refs {
		if grants := s.activeGrantsLocked(ref, at); len(grants) > 0 {
			out[ref] = grants
		}
	}
	return out, nil
}

func (s *InMemoryStore) activeGrantsLocked(ref domain.Ref, at time.Time) []Grant {
	var out []Grant
	for _, gid := range s.byRecord[ref] {
		g := s.byID[gid]
		if g.Active(at) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.After(out[j].GrantedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
