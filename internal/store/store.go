// Package store defines the PipelineStore contract and its implementations
// (spec.md §4.A). All methods return/consume deep copies of domain.Pipeline
// so callers never share mutable state with the store or with each other.
package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
)

// PipelineStore persists Pipeline records.
type PipelineStore interface {
	Save(ctx context.Context, p *domain.Pipeline) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error)
	GetAll(ctx context.Context) ([]*domain.Pipeline, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
