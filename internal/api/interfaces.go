package api

import (
	"context"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
)

// PipelineService is the facade handlers call into (spec.md §4.H). It
// composes the store, the recurrence calculator, and the executor, and is
// implemented by internal/service.PipelineService. Handlers
// depend on this interface, not the concrete type, so tests can substitute a
// fake — mirroring the teacher's pattern of declaring store/service
// interfaces in this package even though it also hosts the HTTP handlers.
type PipelineService interface {
	Create(ctx context.Context, p *domain.Pipeline) (*domain.Pipeline, error)
	Update(ctx context.Context, id uuid.UUID, update PipelineUpdate) (*domain.Pipeline, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	List(ctx context.Context) ([]*domain.Pipeline, error)
	RunNow(ctx context.Context, id uuid.UUID) error
	GetLatestResults(ctx context.Context, id uuid.UUID) (*domain.OutputData, error)
}

// PipelineUpdate carries the mutable subset of a pipeline a PUT may change.
// Nil fields leave the corresponding value untouched.
type PipelineUpdate struct {
	Name         *string
	Description  *string
	RunFrequency *domain.RunFrequency
	Ingestor     *domain.IngestorConfig
}

// LogBus lets handlers subscribe to a pipeline's live run logs without
// importing internal/logbus directly, keeping this package's only inbound
// dependency the domain package.
type LogBus interface {
	Subscribe(pipelineID uuid.UUID) (<-chan domain.RunLogEvent, func())
}
