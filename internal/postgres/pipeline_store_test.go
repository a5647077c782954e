package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testPool creates a migrated pool for store tests, skipping when no
// database is available.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	require.NoError(t, postgres.Migrate(ctx, pool))
	return pool
}

func newTestPipeline(name string) *domain.Pipeline {
	return &domain.Pipeline{
		ID:     uuid.New(),
		Name:   name,
		Status: domain.StatusInactive,
		Config: domain.PipelineConfig{
			RunFrequency: domain.FrequencyDaily,
			Ingestor: domain.IngestorConfig{
				Strategy: domain.StrategySimple,
				Sources: []domain.SourceConfig{
					{Type: domain.SourceTypeAPI, API: &domain.APISourceConfig{URL: "https://example.com/data"}},
				},
			},
		},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestPipelineStore_SaveAndGet(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)
	ctx := context.Background()

	p := newTestPipeline("orders")
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Status, got.Status)
	assert.Equal(t, domain.FrequencyDaily, got.Config.RunFrequency)
	require.Len(t, got.Config.Ingestor.Sources, 1)
	assert.Equal(t, "https://example.com/data", got.Config.Ingestor.Sources[0].API.URL)
}

func TestPipelineStore_SaveIsUpsert(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)
	ctx := context.Background()

	p := newTestPipeline("orders")
	require.NoError(t, s.Save(ctx, p))

	p.Status = domain.StatusActive
	p.Description = "now running"
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "now running", got.Description)
}

func TestPipelineStore_GetNotFound(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)

	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}

func TestPipelineStore_GetAll(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)
	ctx := context.Background()

	// Earlier tests in this package leave rows behind; start from an empty table.
	_, err := pool.Exec(ctx, "DELETE FROM pipelines")
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, newTestPipeline("orders")))
	require.NoError(t, s.Save(ctx, newTestPipeline("events")))

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPipelineStore_Delete(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)
	ctx := context.Background()

	p := newTestPipeline("orders")
	require.NoError(t, s.Save(ctx, p))
	require.NoError(t, s.Delete(ctx, p.ID))

	_, err := s.Get(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}

func TestPipelineStore_DeleteNotFound(t *testing.T) {
	pool := testPool(t)
	s := postgres.NewPipelineStore(pool)

	err := s.Delete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}
