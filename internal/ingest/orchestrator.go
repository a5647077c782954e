// Package ingest implements the ingestion orchestrator (spec.md §4.C): it
// fans out over a pipeline's configured sources, isolates per-source
// failures, and aggregates whatever succeeded into one OutputData.
package ingest

import (
	"context"
	"log/slog"

	"github.com/rat-data/rat/platform/internal/adapter"
	"github.com/rat-data/rat/platform/internal/domain"
)

// AdapterFactory builds the Adapter for one source config. Exposed as a
// field (rather than calling adapter.New directly) so tests can substitute
// fakes without a network or filesystem.
type AdapterFactory func(cfg domain.SourceConfig) (adapter.Adapter, error)

// Orchestrator runs a pipeline's IngestorConfig end to end.
type Orchestrator struct {
	newAdapter AdapterFactory
}

// New builds an Orchestrator whose adapters are constructed via deps.
func New(deps adapter.Dependencies) *Orchestrator {
	return &Orchestrator{
		newAdapter: func(cfg domain.SourceConfig) (adapter.Adapter, error) {
			return adapter.New(cfg, deps)
		},
	}
}

// NewWithFactory builds an Orchestrator using a caller-supplied adapter
// factory, primarily for tests.
func NewWithFactory(f AdapterFactory) *Orchestrator {
	return &Orchestrator{newAdapter: f}
}

// Run executes cfg's strategy and returns the aggregated OutputData.
func (o *Orchestrator) Run(ctx context.Context, cfg domain.IngestorConfig) (domain.OutputData, error) {
	switch cfg.Strategy {
	case domain.StrategySimple, "":
		return o.runSimple(ctx, cfg)
	case domain.StrategyML:
		// ML-unification strategy is out of scope for this implementation
		// (spec.md Non-goals); stubbed so pipelines configured for it don't
		// fail outright, matching the simple strategy's "best effort" spirit.
		return domain.OutputData{Unified: true}, nil
	default:
		return domain.OutputData{}, domain.NewConfigError("unknown ingest strategy: " + string(cfg.Strategy))
	}
}

// runSimple fetches every source in order, isolating failures: a source
// that errors is logged and skipped, and the run continues with the rest
// (spec.md §4.C, §8 scenario 5).
func (o *Orchestrator) runSimple(ctx context.Context, cfg domain.IngestorConfig) (domain.OutputData, error) {
	var allRecords []domain.AdapterRecord

	for _, srcCfg := range cfg.Sources {
		a, err := o.newAdapter(srcCfg)
		if err != nil {
			slog.WarnContext(ctx, "ingest: skipping source, could not build adapter", "error", err)
			continue
		}

		records, err := a.Fetch(ctx)
		if err != nil {
			slog.WarnContext(ctx, "ingest: skipping source, fetch failed", "error", err)
			continue
		}

		allRecords = append(allRecords, records...)
	}

	// source_count is the number of configured sources, not the number that
	// succeeded — a failing source is still counted (spec.md §8 scenario 5).
	return domain.OutputData{
		Records: allRecords,
		Unified: false,
		Metadata: map[string]interface{}{
			"source_count": len(cfg.Sources),
			"record_count": len(allRecords),
		},
	}, nil
}
