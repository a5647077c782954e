// Package executor implements the in-process run executor (spec.md §4.F):
// it owns the pipeline status machine transition INACTIVE -> ACTIVE, runs
// the ingestion orchestrator, and transitions to INACTIVE or FAILED
// afterward. Unlike the teacher's internal/executor package — which
// dispatched runs to a remote gRPC runner pool with round-robin failover —
// every run here executes in-process, so Submit only needs to own one
// status transition and one background goroutine.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/ingest"
	"github.com/rat-data/rat/platform/internal/logbus"
	"github.com/rat-data/rat/platform/internal/recurrence"
	"github.com/rat-data/rat/platform/internal/store"
)

// DefaultMaxConcurrentRuns is the default ceiling on how many pipelines may
// have their orchestrator actually running at once (spec.md §6's
// max_concurrent_runs, default 5). It bounds total adapter I/O in flight
// across different pipelines; it's independent of the per-pipeline
// ACTIVE-status check, which already limits each pipeline to one run.
const DefaultMaxConcurrentRuns = 5

// Executor runs one pipeline's ingestion to completion in the background.
type Executor struct {
	store        store.PipelineStore
	orchestrator *ingest.Orchestrator
	sem          chan struct{}

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

// New builds an Executor backed by st and orchestrator, bounded by
// DefaultMaxConcurrentRuns simultaneous orchestrator runs.
func New(st store.PipelineStore, orchestrator *ingest.Orchestrator) *Executor {
	return NewWithLimit(st, orchestrator, DefaultMaxConcurrentRuns)
}

// NewWithLimit builds an Executor whose orchestrator runs are bounded by
// maxConcurrent simultaneous pipelines (spec.md §6 SCHEDULER_MAX_CONCURRENT_RUNS).
// A value <= 0 falls back to DefaultMaxConcurrentRuns rather than disabling
// the bound entirely — an unbounded executor could let the scheduler fire
// every due pipeline's adapters at once.
func NewWithLimit(st store.PipelineStore, orchestrator *ingest.Orchestrator, maxConcurrent int) *Executor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	return &Executor{
		store:        st,
		orchestrator: orchestrator,
		sem:          make(chan struct{}, maxConcurrent),
		locks:        make(map[uuid.UUID]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing Submit calls for pipeline id,
// creating one on first use. store.Get and store.Save are independent
// operations (see internal/store/memory.go), so without this lock two
// Submit calls racing for the same pipeline — e.g. a manual RunNow request
// landing alongside the scheduler's own fire path — could both observe
// INACTIVE, both write ACTIVE, and both launch a run concurrently.
func (e *Executor) lockFor(id uuid.UUID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[id]
	if !ok {
		m = &sync.Mutex{}
		e.locks[id] = m
	}
	return m
}

// Submit transitions the pipeline to ACTIVE and starts its run in the
// background, returning as soon as the ACTIVE transition is durable so
// callers (the scheduler, manual trigger) never double-submit the same
// pipeline (spec.md §4.E invariant: at most one run per pipeline at a time).
func (e *Executor) Submit(ctx context.Context, id uuid.UUID) error {
	lock := e.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	p, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Status == domain.StatusActive {
		return domain.ErrPipelineActive
	}

	p.Status = domain.StatusActive
	p.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, p); err != nil {
		return domain.NewExecutorError("failed to mark pipeline active: " + err.Error())
	}

	go e.run(context.WithoutCancel(ctx), id)
	return nil
}

// run executes the ingestion orchestrator and persists the resulting status
// transition. It never returns an error — ingestion failures land as
// PipelineStatus FAILED on the stored pipeline, per spec.md §4.F. A failure to
// load or save the pipeline is only logged; the stored record keeps whatever
// it held before.
func (e *Executor) run(ctx context.Context, id uuid.UUID) {
	ctx = logbus.ContextWithPipelineID(ctx, id)
	logger := slog.Default()

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	logger.InfoContext(ctx, "run started", "pipeline_id", id)

	p, err := e.store.Get(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "run aborted: failed to load pipeline", "error", err)
		return
	}

	output, runErr := e.orchestrator.Run(ctx, p.Config.Ingestor)
	if runErr != nil {
		logger.ErrorContext(ctx, "ingestion failed", "error", runErr)
	}

	current, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPipelineNotFound) {
			logger.WarnContext(ctx, "pipeline deleted mid-run, discarding result")
			return
		}
		logger.ErrorContext(ctx, "run finalize aborted: failed to reload pipeline", "error", err)
		return
	}

	now := time.Now().UTC()
	if runErr != nil {
		current.Status = domain.StatusFailed
	} else {
		current.Status = domain.StatusInactive
		current.LastRun = &now
		result := output
		current.LastResult = &result
	}

	nextRun := recurrence.Next(current.Config.RunFrequency, current.LastRun, now)
	current.NextRun = &nextRun
	current.UpdatedAt = now

	if err := e.store.Save(ctx, current); err != nil {
		logger.ErrorContext(ctx, "failed to persist run result", "error", err)
		return
	}
	logger.InfoContext(ctx, "run finished", "status", current.Status)
}
