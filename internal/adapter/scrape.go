package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rat-data/rat/platform/internal/domain"
)

// ScrapeAdapter fetches one or more web pages and extracts structured
// records from each, either via a CSS/JSON schema or an LLM prompt
// (spec.md §4.B). Unlike the API and File adapters, a single bad URL never
// fails the whole source: it is dropped with a warning, and the adapter
// only errors out when it genuinely cannot run at all (neither schema_doc
// nor prompt configured).
type ScrapeAdapter struct {
	cfg       domain.ScrapeSourceConfig
	client    *http.Client
	extractor Extractor
}

// NewScrapeAdapter builds a ScrapeAdapter for cfg, falling back to deps'
// defaults for llm_provider/cache_mode/prompt where cfg leaves them unset.
func NewScrapeAdapter(cfg domain.ScrapeSourceConfig, deps Dependencies) *ScrapeAdapter {
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = deps.DefaultLLMProvider
	}
	if cfg.CacheMode == "" {
		cfg.CacheMode = deps.DefaultCacheMode
	}
	if cfg.Prompt == "" && len(cfg.SchemaDoc) == 0 {
		cfg.Prompt = deps.DefaultPrompt
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = NewDefaultExtractor(client)
	}

	return &ScrapeAdapter{cfg: cfg, client: client, extractor: extractor}
}

// Fetch iterates cfg.URLs, extracting one record per page that yields
// usable content. A page that fails to download, fails to extract, or
// extracts to an empty payload is dropped with a single warning log and
// does not fail the source (spec.md §4.B).
func (a *ScrapeAdapter) Fetch(ctx context.Context) ([]domain.AdapterRecord, error) {
	useSchema := len(a.cfg.SchemaDoc) > 0
	if !useSchema && a.cfg.Prompt == "" {
		return nil, domain.NewConfigError("scrape source needs either schema_doc or prompt")
	}

	var records []domain.AdapterRecord
	for _, u := range a.cfg.URLs {
		data, err := a.extractOne(ctx, u, useSchema)
		if err != nil {
			slog.WarnContext(ctx, "scrape adapter: dropping url", "url", u, "error", err)
			continue
		}
		if len(data) == 0 {
			slog.WarnContext(ctx, "scrape adapter: empty extraction, dropping url", "url", u)
			continue
		}
		data["source_url"] = u
		records = append(records, domain.AdapterRecord{Source: u, Data: data})
	}
	return records, nil
}

func (a *ScrapeAdapter) extractOne(ctx context.Context, u string, useSchema bool) (map[string]interface{}, error) {
	html, err := a.download(ctx, u)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if useSchema {
		raw, err = a.extractor.ExtractCSS(html, a.cfg.SchemaDoc)
	} else {
		raw, err = a.extractor.ExtractLLM(ctx, html, a.cfg.Prompt, a.cfg.LLMProvider, a.cfg.APIKey)
	}
	if err != nil {
		return nil, err
	}

	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *ScrapeAdapter) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, domain.NewAdapterError(u, "page returned error status", nil)
	}
	return io.ReadAll(resp.Body)
}
