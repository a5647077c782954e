package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
)

// MemoryStore is the default in-process PipelineStore (STORE_TYPE=memory),
// grounded on internal/cache/cache.go's mutex-guarded map shape but without
// TTL or eviction — pipelines live for the process lifetime.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[uuid.UUID]*domain.Pipeline
}

// NewMemoryStore builds an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pipelines: make(map[uuid.UUID]*domain.Pipeline)}
}

func (s *MemoryStore) Save(_ context.Context, p *domain.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, domain.ErrPipelineNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]*domain.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[id]; !ok {
		return domain.ErrPipelineNotFound
	}
	delete(s.pipelines, id)
	return nil
}
