package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rat-data/rat/platform/internal/domain"
)

// pipelineColumns is the full column list for pipeline queries.
const pipelineColumns = `id, name, description, status, config, last_run, next_run, created_at, updated_at`

// PipelineStore implements store.PipelineStore backed by Postgres, for the
// optional STORE_TYPE=postgres durable backend (spec.md §4.A, §6).
type PipelineStore struct {
	pool *pgxpool.Pool
}

// NewPipelineStore creates a PipelineStore backed by the given pool.
func NewPipelineStore(pool *pgxpool.Pool) *PipelineStore {
	return &PipelineStore{pool: pool}
}

func scanPipeline(row pgx.Row) (*domain.Pipeline, error) {
	var (
		id                uuid.UUID
		name, description string
		status            string
		configJSON        []byte
		lastRun, nextRun  *time.Time
		createdAt         time.Time
		updatedAt         time.Time
	)

	if err := row.Scan(&id, &name, &description, &status, &configJSON, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var cfg domain.PipelineConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline config: %w", err)
	}

	return &domain.Pipeline{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      domain.PipelineStatus(status),
		Config:      cfg,
		LastRun:     lastRun,
		NextRun:     nextRun,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func (s *PipelineStore) Save(ctx context.Context, p *domain.Pipeline) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return domain.NewStoreError("save", fmt.Errorf("marshal config: %w", err))
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pipelines (id, name, description, status, config, last_run, next_run, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Description, string(p.Status), configJSON, p.LastRun, p.NextRun, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.NewStoreError("save", err)
	}
	return nil
}

func (s *PipelineStore) Get(ctx context.Context, id uuid.UUID) (*domain.Pipeline, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id)
	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPipelineNotFound
		}
		return nil, domain.NewStoreError("get", err)
	}
	return p, nil
}

func (s *PipelineStore) GetAll(ctx context.Context) ([]*domain.Pipeline, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at DESC`)
	if err != nil {
		return nil, domain.NewStoreError("get_all", err)
	}
	defer rows.Close()

	var out []*domain.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, domain.NewStoreError("get_all", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStoreError("get_all", err)
	}
	return out, nil
}

func (s *PipelineStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pipelines WHERE id = $1`, id)
	if err != nil {
		return domain.NewStoreError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPipelineNotFound
	}
	return nil
}
