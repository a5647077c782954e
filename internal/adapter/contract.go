// Package adapter implements the adapter contract (spec.md §4.B): one
// Adapter per source kind, each owning the transport details of fetching
// AdapterRecords from exactly one source.
package adapter

import (
	"context"
	"net/http"
	"time"

	"github.com/rat-data/rat/platform/internal/domain"
)

// Adapter fetches records from one configured source.
type Adapter interface {
	Fetch(ctx context.Context) ([]domain.AdapterRecord, error)
}

// DefaultAPITimeout is used when an APISourceConfig doesn't set one
// (spec.md §5: "API default 30s").
const DefaultAPITimeout = 30 * time.Second

// Dependencies carries process-wide defaults and shared clients adapters
// need but that aren't part of a single source's own config — all sourced
// from the environment variables named in spec.md §6.
type Dependencies struct {
	DefaultAPITimeout  time.Duration
	DefaultLLMProvider string
	DefaultCacheMode   string
	DefaultPrompt      string
	HTTPClient         *http.Client
	Extractor          Extractor // scrape extraction strategy, see extractor.go
}

// New dispatches cfg to the adapter that realizes its tagged type. Unknown
// tags are rejected by SourceConfig.Validate before this is ever reached.
func New(cfg domain.SourceConfig, deps Dependencies) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case domain.SourceTypeAPI:
		return NewAPIAdapter(*cfg.API, deps), nil
	case domain.SourceTypeFile:
		return NewFileAdapter(*cfg.File), nil
	case domain.SourceTypeScrape:
		return NewScrapeAdapter(*cfg.Scrape, deps), nil
	default:
		return nil, domain.NewConfigError("unknown source type")
	}
}
