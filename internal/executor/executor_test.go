package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/adapter"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/ingest"
	"github.com/rat-data/rat/platform/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingAdapter tracks how many Fetch calls are in flight concurrently and
// blocks until release is closed, so tests can assert an upper bound on
// simultaneous orchestrator runs.
type blockingAdapter struct {
	inFlight *int32
	maxSeen  *int32
	release  chan struct{}
}

func (a *blockingAdapter) Fetch(_ context.Context) ([]domain.AdapterRecord, error) {
	n := atomic.AddInt32(a.inFlight, 1)
	for {
		old := atomic.LoadInt32(a.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(a.maxSeen, old, n) {
			break
		}
	}
	<-a.release
	atomic.AddInt32(a.inFlight, -1)
	return nil, nil
}

type stubAdapter struct {
	records []domain.AdapterRecord
	err     error
}

func (a *stubAdapter) Fetch(_ context.Context) ([]domain.AdapterRecord, error) {
	return a.records, a.err
}

func newStubOrchestrator(records []domain.AdapterRecord, err error) *ingest.Orchestrator {
	return ingest.NewWithFactory(func(domain.SourceConfig) (adapter.Adapter, error) {
		return &stubAdapter{records: records, err: err}, nil
	})
}

func seedPipeline(t *testing.T, st store.PipelineStore) *domain.Pipeline {
	t.Helper()
	p := &domain.Pipeline{
		Name:   "p1",
		Status: domain.StatusInactive,
		Config: domain.PipelineConfig{
			RunFrequency: domain.FrequencyDaily,
			Ingestor: domain.IngestorConfig{
				Strategy: domain.StrategySimple,
				Sources: []domain.SourceConfig{
					{Type: domain.SourceTypeAPI, API: &domain.APISourceConfig{URL: "https://example.com"}},
				},
			},
		},
	}
	require.NoError(t, st.Save(context.Background(), p))
	return p
}

func TestSubmit_MarksActiveSynchronously(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	orch := newStubOrchestrator([]domain.AdapterRecord{{Source: "s", Data: map[string]interface{}{"a": 1}}}, nil)
	e := New(st, orch)

	err := e.Submit(context.Background(), p.ID)
	require.NoError(t, err)

	reloaded, err := st.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, reloaded.Status)
}

func TestSubmit_RejectsAlreadyActive(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	p.Status = domain.StatusActive
	require.NoError(t, st.Save(context.Background(), p))

	e := New(st, newStubOrchestrator(nil, nil))
	err := e.Submit(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineActive)
}

func TestSubmit_ConcurrentCallsForSamePipeline_OnlyOneWins(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)

	release := make(chan struct{})
	orch := ingest.NewWithFactory(func(domain.SourceConfig) (adapter.Adapter, error) {
		return &blockingAdapter{inFlight: new(int32), maxSeen: new(int32), release: release}, nil
	})
	e := New(st, orch)

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.Submit(context.Background(), p.ID)
		}()
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrPipelineActive):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one concurrent Submit should win the ACTIVE transition")

	close(release)
	require.Eventually(t, func() bool {
		reloaded, err := st.Get(context.Background(), p.ID)
		return err == nil && reloaded.Status == domain.StatusInactive
	}, time.Second, 5*time.Millisecond)
}

func TestSubmit_UnknownPipeline(t *testing.T) {
	st := store.NewMemoryStore()
	e := New(st, newStubOrchestrator(nil, nil))
	err := e.Submit(context.Background(), domain.Pipeline{}.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}

func TestRun_SuccessTransitionsToInactiveWithResult(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	orch := newStubOrchestrator([]domain.AdapterRecord{{Source: "s", Data: map[string]interface{}{"a": 1}}}, nil)
	e := New(st, orch)

	require.NoError(t, e.Submit(context.Background(), p.ID))

	require.Eventually(t, func() bool {
		reloaded, err := st.Get(context.Background(), p.ID)
		return err == nil && reloaded.Status == domain.StatusInactive
	}, time.Second, 5*time.Millisecond)

	reloaded, err := st.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastResult)
	assert.Len(t, reloaded.LastResult.Records, 1)
	require.NotNil(t, reloaded.LastRun)
	require.NotNil(t, reloaded.NextRun)
}

func TestRun_FailureTransitionsToFailed(t *testing.T) {
	// Per-source adapter failures are isolated by the orchestrator and never
	// fail a run (spec scenario: "ingestion with one failing source"); the
	// only way a run actually fails is a config-level orchestrator error,
	// e.g. an unknown strategy slipping past validation straight into the store.
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	p.Config.Ingestor.Strategy = "bogus"
	require.NoError(t, st.Save(context.Background(), p))

	orch := newStubOrchestrator(nil, nil)
	e := New(st, orch)

	require.NoError(t, e.Submit(context.Background(), p.ID))

	require.Eventually(t, func() bool {
		reloaded, err := st.Get(context.Background(), p.ID)
		return err == nil && reloaded.Status == domain.StatusFailed
	}, time.Second, 5*time.Millisecond)
}

func TestRun_SourceFetchFailure_StillSucceeds(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	orch := newStubOrchestrator(nil, errors.New("boom"))
	e := New(st, orch)

	require.NoError(t, e.Submit(context.Background(), p.ID))

	require.Eventually(t, func() bool {
		reloaded, err := st.Get(context.Background(), p.ID)
		return err == nil && reloaded.Status == domain.StatusInactive
	}, time.Second, 5*time.Millisecond)

	reloaded, err := st.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastResult)
	assert.Empty(t, reloaded.LastResult.Records)
}

func TestSubmit_BoundsConcurrentOrchestratorRuns(t *testing.T) {
	st := store.NewMemoryStore()

	var inFlight, maxSeen int32
	release := make(chan struct{})
	blockingFactory := ingest.NewWithFactory(func(domain.SourceConfig) (adapter.Adapter, error) {
		return &blockingAdapter{inFlight: &inFlight, maxSeen: &maxSeen, release: release}, nil
	})
	e := NewWithLimit(st, blockingFactory, 2)

	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		p := seedPipeline(t, st)
		ids = append(ids, p.ID)
		require.NoError(t, e.Submit(context.Background(), p.ID))
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&inFlight) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxSeen), "no more than the configured limit should run at once")
	close(release)

	for _, id := range ids {
		id := id
		require.Eventually(t, func() bool {
			reloaded, err := st.Get(context.Background(), id)
			return err == nil && reloaded.Status == domain.StatusInactive
		}, time.Second, 5*time.Millisecond)
	}
}

func TestRun_DeletedMidRun_DiscardsResult(t *testing.T) {
	st := store.NewMemoryStore()
	p := seedPipeline(t, st)
	orch := newStubOrchestrator([]domain.AdapterRecord{{Source: "s"}}, nil)
	e := New(st, orch)

	require.NoError(t, e.Submit(context.Background(), p.ID))
	require.NoError(t, st.Delete(context.Background(), p.ID))

	time.Sleep(50 * time.Millisecond)

	_, err := st.Get(context.Background(), p.ID)
	assert.ErrorIs(t, err, domain.ErrPipelineNotFound)
}
