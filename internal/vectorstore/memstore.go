package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/memcore/memcore/internal/errs"
	"github.com/memcore/memcore/internal/models"
)

// MemStore is an in-process Store used by tests and local development; it
// implements the same similarity-search semantics as RedisStore without a
// Redis dependency. Payload filters are accepted but not applied, since
// tests exercising MemStore operate within a single project/variant scope.
type MemStore struct {
	mu   sync.RWMutex
	data map[models.Variant]map[string]*models.Memory
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[models.Variant]map[string]*models.Memory)}
}

func (s *MemStore) EnsureCollection(_ context.Context, variant models.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[variant] == nil {
		s.data[variant] = make(map[string]*models.Memory)
	}
	return nil
}

func (s *MemStore) Upsert(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[m.Variant] == nil {
		s.data[m.Variant] = make(map[string]*models.Memory)
	}
	cp := *m
	s.data[m.Variant][m.ID.String()] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, variant models.Variant, id string) (*models.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data[variant][id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemStore) Search(_ context.Context, opts SearchOptions) ([]ScoredMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var out []ScoredMemory
	for id, m := range s.data[opts.Variant] {
		if m.Deleted {
			continue
		}
		if opts.ExcludeID != "" && id == opts.ExcludeID {
			continue
		}
		score := CosineSimilarity(opts.Vector, m.Embedding)
		if score < opts.MinScore {
			continue
		}
		cp := *m
		out = append(out, ScoredMemory{Memory: &cp, Score: score})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) UpdatePayload(_ context.Context, variant models.Variant, id string, fn func(*models.Memory)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[variant][id]
	if !ok {
		return errs.ErrNotFound
	}
	fn(m)
	return nil
}

func (s *MemStore) Delete(_ context.Context, variant models.Variant, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[variant], id)
	return nil
}

func (s *MemStore) Count(_ context.Context, variant models.Variant) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data[variant])), nil
}

func (s *MemStore) Health(_ context.Context) error { return nil }

func (s *MemStore) Close() error { return nil }
