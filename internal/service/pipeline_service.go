// Package service implements api.PipelineService (spec.md §4.H), the
// facade the HTTP handlers call into. It composes the pipeline store, the
// recurrence calculator, and the executor — the same "handlers call a
// service, service calls stores" layering the teacher uses to keep
// internal/api free of storage and scheduling details.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/api"
	"github.com/rat-data/rat/platform/internal/cache"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/recurrence"
	"github.com/rat-data/rat/platform/internal/store"
)

// Executor submits a pipeline for an immediate run.
type Executor interface {
	Submit(ctx context.Context, pipelineID uuid.UUID) error
}

// getCacheTTL is short enough that a pipeline's status never appears stale
// for longer than one scheduler tick would already tolerate.
const getCacheTTL = 5 * time.Second

// PipelineService implements api.PipelineService.
type PipelineService struct {
	store    store.PipelineStore
	executor Executor
	getCache *cache.Cache[uuid.UUID, *domain.Pipeline]
}

// New builds a PipelineService backed by st and exec. Single-pipeline reads
// (Get, used heavily by HandleGetPipeline polling clients)
// are cached with a short TTL to spare the store from repeat lookups of the
// same id; List always reads through, since its cost is already one query.
func New(st store.PipelineStore, exec Executor) *PipelineService {
	return &PipelineService{
		store:    st,
		executor: exec,
		getCache: cache.New[uuid.UUID, *domain.Pipeline](cache.Options{TTL: getCacheTTL}),
	}
}

var _ api.PipelineService = (*PipelineService)(nil)

// Create validates and persists a new pipeline, seeding NextRun from its
// RunFrequency (spec.md §4.D: a pipeline that has never run is due at its
// frequency's first future occurrence).
func (s *PipelineService) Create(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error) {
	if err := p.Config.Ingestor.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p.ID = uuid.New()
	p.Status = domain.StatusInactive
	p.CreatedAt = now
	p.UpdatedAt = now
	nextRun := recurrence.Next(p.Config.RunFrequency, nil, now)
	p.NextRun = &nextRun

	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	s.getCache.Delete(p.ID)
	return s.store.Get(ctx, p.ID)
}

// Update applies a partial update, re-validating the ingestor config if
// changed and recomputing NextRun if the recurrence frequency changed. An
// ACTIVE pipeline cannot be updated — its run is reading the config right
// now (spec.md §4.A).
func (s *PipelineService) Update(ctx context.Context, id uuid.UUID, update api.PipelineUpdate) (*domain.Pipeline, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == domain.StatusActive {
		return nil, domain.ErrPipelineActive
	}

	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.Description != nil {
		p.Description = *update.Description
	}
	if update.Ingestor != nil {
		p.Config.Ingestor = *update.Ingestor
	}
	freqChanged := update.RunFrequency != nil && *update.RunFrequency != p.Config.RunFrequency
	if update.RunFrequency != nil {
		p.Config.RunFrequency = *update.RunFrequency
	}

	if err := p.Config.Ingestor.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if freqChanged {
		nextRun := recurrence.Next(p.Config.RunFrequency, p.LastRun, now)
		p.NextRun = &nextRun
	}
	p.UpdatedAt = now

	if err := s.store.Save(ctx, p); err != nil {
		return nil, err
	}
	s.getCache.Delete(id)
	return s.store.Get(ctx, id)
}

// Delete removes a pipeline. An ACTIVE pipeline cannot be deleted out from
// under its own run; the executor's reload-after-run guards against a
// delete that races a run to completion regardless.
func (s *PipelineService) Delete(ctx context.Context, id uuid.UUID) error {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == domain.StatusActive {
		return domain.ErrPipelineActive
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.getCache.Delete(id)
	return nil
}

// Get returns a pipeline by id, serving from getCache when the entry is
// still fresh. A run completing in the background (internal/executor writes
// straight to the store) can leave a cached entry stale for up to
// getCacheTTL — acceptable since RunNow/status polling already tolerates
// scheduler-tick-scale staleness.
func (s *PipelineService) Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	if p, ok := s.getCache.Get(id); ok {
		return p, nil
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.getCache.Set(id, p)
	return p, nil
}

func (s *PipelineService) List(ctx context.Context) ([]*domain.Pipeline, error) {
	return s.store.GetAll(ctx)
}

// RunNow submits an immediate, out-of-cadence run (spec.md §4.E). Submit
// durably writes the ACTIVE transition before returning, so the cache entry
// is dropped immediately rather than waiting out its TTL.
func (s *PipelineService) RunNow(ctx context.Context, id uuid.UUID) error {
	if err := s.executor.Submit(ctx, id); err != nil {
		return err
	}
	s.getCache.Delete(id)
	return nil
}

// GetLatestResults returns the pipeline's most recent OutputData, or nil
// if it has never completed a run.
func (s *PipelineService) GetLatestResults(ctx context.Context, id uuid.UUID) (*domain.OutputData, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.LastResult, nil
}
