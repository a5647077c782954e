// Package domain defines the core business types shared across ratd.
// These types represent the pipeline control plane's data model — not
// HTTP-specific request/response shapes. Where the API shape diverges from
// the domain type (pagination envelopes, computed fields), a response struct
// lives in the api package instead.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineStatus is the pipeline's run-state machine: INACTIVE -> ACTIVE ->
// {INACTIVE, FAILED}.
type PipelineStatus string

const (
	StatusInactive PipelineStatus = "INACTIVE"
	StatusActive   PipelineStatus = "ACTIVE"
	StatusFailed   PipelineStatus = "FAILED"
)

// RunFrequency is the pipeline's recurrence cadence.
type RunFrequency string

const (
	FrequencyDaily   RunFrequency = "DAILY"
	FrequencyWeekly  RunFrequency = "WEEKLY"
	FrequencyMonthly RunFrequency = "MONTHLY"
)

// ValidRunFrequency reports whether s names a known recurrence.
func ValidRunFrequency(s string) bool {
	switch RunFrequency(s) {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// IngestStrategy selects how the ingestion orchestrator combines adapter
// output. Only "simple" is required to produce non-empty output; "ml" is a
// reserved no-op (see SPEC_FULL.md Open Questions).
type IngestStrategy string

const (
	StrategySimple IngestStrategy = "simple"
	StrategyML     IngestStrategy = "ml"
)

// SourceType discriminates the SourceConfig tagged sum.
type SourceType string

const (
	SourceTypeAPI    SourceType = "API"
	SourceTypeFile   SourceType = "FILE"
	SourceTypeScrape SourceType = "SCRAPE"
)

// APISourceConfig describes one HTTP JSON source.
type APISourceConfig struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutSec  float64           `json:"timeout,omitempty"`
	BearerToken string            `json:"bearer_token,omitempty"`
}

// FileFormat names the declared shape of an uploaded file.
type FileFormat string

const (
	FileFormatCSV  FileFormat = "csv"
	FileFormatJSON FileFormat = "json"
)

// FileSourceConfig describes one uploaded-file source.
type FileSourceConfig struct {
	UploadBytes      []byte     `json:"-"`
	DeclaredFilename string     `json:"declared_filename"`
	DeclaredFormat   FileFormat `json:"declared_format"`
}

// ScrapeSourceConfig describes one web-scrape source. Exactly one of
// SchemaDoc / Prompt must be set.
type ScrapeSourceConfig struct {
	URLs         []string        `json:"urls"`
	APIKey       string          `json:"api_key"`
	SchemaDoc    json.RawMessage `json:"schema_doc,omitempty"`
	Prompt       string          `json:"prompt,omitempty"`
	LLMProvider  string          `json:"llm_provider"`
	OutputFormat string          `json:"output_format,omitempty"`
	Verbose      bool            `json:"verbose,omitempty"`
	CacheMode    string          `json:"cache_mode,omitempty"`
}

// SourceConfig is the discriminated union of everything the ingestion
// orchestrator can fan out to. Exactly one of API/File/Scrape is populated,
// matching Type.
type SourceConfig struct {
	Type   SourceType          `json:"type"`
	API    *APISourceConfig    `json:"api,omitempty"`
	File   *FileSourceConfig   `json:"file,omitempty"`
	Scrape *ScrapeSourceConfig `json:"scrape,omitempty"`
}

// Validate rejects malformed or unknown-tag source configs at the boundary,
// per SPEC_FULL.md's "reject unknown tags at deserialization" design note.
func (s SourceConfig) Validate() error {
	switch s.Type {
	case SourceTypeAPI:
		if s.API == nil || s.API.URL == "" {
			return NewConfigError("api source requires a url")
		}
	case SourceTypeFile:
		if s.File == nil || s.File.DeclaredFilename == "" {
			return NewConfigError("file source requires a declared_filename")
		}
		if s.File.DeclaredFormat != FileFormatCSV && s.File.DeclaredFormat != FileFormatJSON {
			return NewConfigError(fmt.Sprintf("file source has unsupported declared_format %q", s.File.DeclaredFormat))
		}
	case SourceTypeScrape:
		if s.Scrape == nil {
			return NewConfigError("scrape source requires configuration")
		}
		hasSchema := len(s.Scrape.SchemaDoc) > 0
		hasPrompt := s.Scrape.Prompt != ""
		if hasSchema == hasPrompt {
			return NewConfigError("scrape source requires exactly one of schema_doc or prompt")
		}
	default:
		return NewConfigError(fmt.Sprintf("unknown source type %q", s.Type))
	}
	return nil
}

// IngestorConfig bundles a pipeline's ordered sources with the strategy
// that combines them.
type IngestorConfig struct {
	Sources  []SourceConfig `json:"sources"`
	Strategy IngestStrategy `json:"strategy"`
}

// Validate checks the strategy tag and every configured source.
func (c IngestorConfig) Validate() error {
	switch c.Strategy {
	case StrategySimple, StrategyML:
	default:
		return NewConfigError(fmt.Sprintf("unknown ingest strategy %q", c.Strategy))
	}
	for i, src := range c.Sources {
		if err := src.Validate(); err != nil {
			return NewConfigError(fmt.Sprintf("source %d: %s", i, err.Error()))
		}
	}
	return nil
}

// PipelineConfig is the full user-supplied configuration of a pipeline.
type PipelineConfig struct {
	Ingestor     IngestorConfig `json:"ingestor_config"`
	RunFrequency RunFrequency   `json:"run_frequency"`
}

// Pipeline is the durable unit of the control plane: identity, mutable
// metadata, scheduling state and the last aggregated output.
type Pipeline struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Status      PipelineStatus `json:"status"`
	Config      PipelineConfig `json:"config"`
	LastRun     *time.Time     `json:"last_run,omitempty"`
	NextRun     *time.Time     `json:"next_run,omitempty"`
	LastResult  *OutputData    `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so callers (and the store) never share mutable
// state with one another, per §4.A's "all return/consume deep copies".
func (p *Pipeline) Clone() *Pipeline {
	if p == nil {
		return nil
	}
	cp := *p
	if p.LastRun != nil {
		t := *p.LastRun
		cp.LastRun = &t
	}
	if p.NextRun != nil {
		t := *p.NextRun
		cp.NextRun = &t
	}
	cp.Config.Ingestor.Sources = append([]SourceConfig(nil), p.Config.Ingestor.Sources...)
	if p.LastResult != nil {
		result := *p.LastResult
		result.Records = append([]AdapterRecord(nil), p.LastResult.Records...)
		cp.LastResult = &result
	}
	return &cp
}

// AdapterRecord is the uniform envelope every adapter emits.
type AdapterRecord struct {
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"data"`
}

// OutputData is the aggregated result of one ingestion run.
type OutputData struct {
	Records  []AdapterRecord        `json:"records"`
	Unified  bool                   `json:"unified"`
	Metadata map[string]interface{} `json:"metadata"`
}

// RunLogEvent is an ephemeral, never-persisted log line tagged with the
// pipeline it originated from.
type RunLogEvent struct {
	PipelineID uuid.UUID         `json:"pipeline_id"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Timestamp  time.Time         `json:"timestamp"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// --- Error vocabulary (SPEC_FULL.md AMBIENT STACK / spec.md §7) ---

// ConfigError signals malformed source config, an unknown strategy, or a
// scrape source missing both schema_doc and prompt. Never retried.
type ConfigError struct{ Msg string }

func NewConfigError(msg string) *ConfigError { return &ConfigError{Msg: msg} }
func (e *ConfigError) Error() string         { return "config error: " + e.Msg }

// AdapterError signals a transport or parse failure for one source.
// The ingestion orchestrator logs and swallows these; they never fail a run
// on their own.
type AdapterError struct {
	Source string
	Msg    string
	Cause  error
}

func NewAdapterError(source, msg string, cause error) *AdapterError {
	return &AdapterError{Source: source, Msg: msg, Cause: cause}
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("adapter error (%s): %s: %v", e.Source, e.Msg, e.Cause)
	}
	return fmt.Sprintf("adapter error (%s): %s", e.Source, e.Msg)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// StoreError signals a persistence failure. Bubbles to the caller; the
// service never reverts in-memory changes it already made.
type StoreError struct {
	Op    string
	Cause error
}

func NewStoreError(op string, cause error) *StoreError { return &StoreError{Op: op, Cause: cause} }
func (e *StoreError) Error() string                     { return fmt.Sprintf("store error (%s): %v", e.Op, e.Cause) }
func (e *StoreError) Unwrap() error                     { return e.Cause }

// SchedulerError signals a job-table inconsistency. Logged; the next
// reconciliation pass repairs it.
type SchedulerError struct{ Msg string }

func NewSchedulerError(msg string) *SchedulerError { return &SchedulerError{Msg: msg} }
func (e *SchedulerError) Error() string            { return "scheduler error: " + e.Msg }

// ExecutorError is raised when a run cannot even reach the ingestion step
// (Submit could not mark the pipeline ACTIVE). The stored pipeline is left
// as it was: no status change and no last_run update.
type ExecutorError struct{ Msg string }

func NewExecutorError(msg string) *ExecutorError { return &ExecutorError{Msg: msg} }
func (e *ExecutorError) Error() string           { return "executor error: " + e.Msg }

// ErrPipelineNotFound is returned by the store and surfaced by the service
// when an operation targets a pipeline id that doesn't exist.
var ErrPipelineNotFound = fmt.Errorf("pipeline not found")

// ErrPipelineActive is returned by run_now when the pipeline is already
// ACTIVE (spec.md §6, 409).
var ErrPipelineActive = fmt.Errorf("pipeline is already active")
