package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"
)

// Extractor turns one fetched page's HTML body into a JSON-shaped payload,
// realizing the Scrape adapter's two configurable extraction modes
// (spec.md §4.B): CSS/JSON schema extraction, or LLM-prompted extraction.
type Extractor interface {
	// ExtractCSS walks html according to the field->selector mapping decoded
	// from schema_doc and returns the extracted fields as JSON.
	ExtractCSS(html []byte, schemaDoc json.RawMessage) (json.RawMessage, error)

	// ExtractLLM sends html plus prompt to the configured llm_provider and
	// returns its JSON response payload.
	ExtractLLM(ctx context.Context, html []byte, prompt, provider, apiKey string) (json.RawMessage, error)
}

// cssSchema is the field -> CSS selector mapping decoded from schema_doc.
// Each selector's first match's text content becomes the field's value.
type cssSchema map[string]string

// DefaultExtractor implements Extractor using goquery for CSS extraction
// (adopted from the jtarchie-ci example repo's go.mod, since this teacher
// has no HTML-parsing dependency of its own) and a generic JSON-over-HTTP
// call to the configured provider for LLM extraction.
type DefaultExtractor struct {
	HTTPClient *http.Client
}

// NewDefaultExtractor builds a DefaultExtractor, defaulting to http.DefaultClient.
func NewDefaultExtractor(client *http.Client) *DefaultExtractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &DefaultExtractor{HTTPClient: client}
}

func (e *DefaultExtractor) ExtractCSS(html []byte, schemaDoc json.RawMessage) (json.RawMessage, error) {
	var schema cssSchema
	if err := json.Unmarshal(schemaDoc, &schema); err != nil {
		return nil, fmt.Errorf("parse schema_doc: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	out := make(map[string]string, len(schema))
	for field, selector := range schema {
		sel := doc.Find(selector).First()
		out[field] = sel.Text()
	}
	return json.Marshal(out)
}

// llmRequest is the minimal JSON body POSTed to a configured LLM provider
// endpoint. The provider is caller-supplied and unconstrained (spec.md §3
// only requires llm_provider + api_key + prompt), so this is a small,
// provider-agnostic HTTP client rather than a vendored SDK — see
// SPEC_FULL.md's standard-library justification.
type llmRequest struct {
	Prompt string `json:"prompt"`
	HTML   string `json:"html"`
}

func (e *DefaultExtractor) ExtractLLM(ctx context.Context, html []byte, prompt, provider, apiKey string) (json.RawMessage, error) {
	body, err := json.Marshal(llmRequest{Prompt: prompt, HTML: string(html)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm provider returned status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	return raw, nil
}
