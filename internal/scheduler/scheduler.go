// Package scheduler reconciles due pipelines against the store and fires
// their runs. It runs as a background goroutine inside ratd, checking all
// pipelines at a configurable interval (default 30s) — the same
// ticker-driven shape as the teacher's schedule evaluator, but the teacher
// walked a separate Schedule table joined against Pipeline and Run tables;
// here a Pipeline carries its own RunFrequency and NextRun, so one store
// scan replaces the schedule/run joins entirely.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/rat-data/rat/platform/internal/store"
	"github.com/robfig/cron/v3"
)

// Executor submits a pipeline for an immediate run. Satisfied by
// *executor.Executor; declared locally so scheduler doesn't need to import
// executor's own dependencies (orchestrator, store).
type Executor interface {
	Submit(ctx context.Context, pipelineID uuid.UUID) error
}

// Scheduler reconciles pipeline.NextRun against wall-clock time and fires
// due runs through an Executor.
type Scheduler struct {
	store        store.PipelineStore
	executor     Executor
	tickSchedule cron.Schedule
	misfireGrace time.Duration

	trigger chan uuid.UUID
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler that polls store every interval and tolerates
// misfires: a pipeline whose NextRun has passed by more than misfireGrace
// still fires, but is logged as a misfire rather than silently skipped.
// interval is expressed as a cron "@every" schedule (robfig/cron) rather
// than a plain time.Ticker so the reconciliation cadence is described the
// same way a pipeline's own recurrence would be, and so a future release
// that wants an actual cron-style check cadence (e.g. "only reconcile
// during business hours") only needs to change the parsed spec, not the
// loop driving it.
func New(st store.PipelineStore, exec Executor, interval, misfireGrace time.Duration) *Scheduler {
	schedule, err := cron.ParseStandard(fmt.Sprintf("@every %s", interval))
	if err != nil {
		// interval is always a valid time.Duration rendering, so @every
		// parsing cannot fail; fall back defensively rather than panic.
		schedule, _ = cron.ParseStandard("@every 30s")
	}
	return &Scheduler{
		store:        st,
		executor:     exec,
		tickSchedule: schedule,
		misfireGrace: misfireGrace,
		trigger:      make(chan uuid.UUID, 16),
	}
}

// Start begins the background reconciliation loop.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		timer := time.NewTimer(time.Until(s.tickSchedule.Next(time.Now())))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				s.tick(ctx)
				timer.Reset(time.Until(s.tickSchedule.Next(time.Now())))
			case id := <-s.trigger:
				s.fire(ctx, id, "manual")
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// TriggerNow asks the scheduler to fire id outside its normal cadence.
// Non-blocking: if the trigger queue is full the request is dropped and
// the caller should fall back to calling the Executor directly.
func (s *Scheduler) TriggerNow(id uuid.UUID) bool {
	select {
	case s.trigger <- id:
		return true
	default:
		return false
	}
}

// tick scans every pipeline and fires the ones whose NextRun is due.
func (s *Scheduler) tick(ctx context.Context) {
	pipelines, err := s.store.GetAll(ctx)
	if err != nil {
		slog.Error("scheduler: failed to list pipelines", "error", err)
		return
	}

	now := time.Now()
	for _, p := range pipelines {
		if p.Status == domain.StatusActive {
			continue
		}
		if p.NextRun == nil || p.NextRun.After(now) {
			continue
		}

		if now.Sub(*p.NextRun) > s.misfireGrace {
			slog.Warn("scheduler: firing misfired pipeline",
				"pipeline_id", p.ID, "scheduled_for", p.NextRun, "late_by", now.Sub(*p.NextRun))
		}

		s.fire(ctx, p.ID, "schedule")
	}
}

// fire submits id to the executor, logging (but not retrying) failures —
// a pipeline that is already ACTIVE, or has been deleted since the scan,
// simply doesn't fire this tick and will be reconsidered next tick or on
// the next manual trigger.
func (s *Scheduler) fire(ctx context.Context, id uuid.UUID, reason string) {
	err := s.executor.Submit(ctx, id)
	switch {
	case err == nil:
		slog.Info("scheduler: fired pipeline run", "pipeline_id", id, "trigger", reason)
	case errors.Is(err, domain.ErrPipelineActive):
		slog.Debug("scheduler: skipping, already active", "pipeline_id", id, "trigger", reason)
	case errors.Is(err, domain.ErrPipelineNotFound):
		slog.Debug("scheduler: skipping, pipeline no longer exists", "pipeline_id", id, "trigger", reason)
	default:
		slog.Error("scheduler: submit failed", "pipeline_id", id, "trigger", reason, "error", err)
	}
}
