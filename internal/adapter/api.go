package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rat-data/rat/platform/internal/domain"
)

// retryableStatus mirrors original_source/pipeline/ingestion/adapters/api_adapter.py's
// urllib3.Retry(status_forcelist=[500, 502, 503, 504]).
var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// maxAPIAttempts mirrors the original's Retry(total=3) (1 initial + 2 retries).
const maxAPIAttempts = 3

// apiBackoff mirrors the original's backoff_factor=0.3 schedule (0.3s, 0.6s,
// 1.2s, ...). With maxAPIAttempts = 3, Fetch waits 0.3s before the second
// attempt and 0.6s before the third.
func apiBackoff(attempt int) time.Duration {
	base := 300 * time.Millisecond
	for i := 0; i < attempt; i++ {
		base *= 2
	}
	return base
}

// APIAdapter issues one GET to a JSON HTTP endpoint (spec.md §4.B).
type APIAdapter struct {
	cfg     domain.APISourceConfig
	client  *http.Client
	timeout time.Duration
}

// NewAPIAdapter builds an APIAdapter for cfg, falling back to deps'
// defaults when cfg doesn't set its own timeout.
func NewAPIAdapter(cfg domain.APISourceConfig, deps Dependencies) *APIAdapter {
	timeout := DefaultAPITimeout
	if deps.DefaultAPITimeout > 0 {
		timeout = deps.DefaultAPITimeout
	}
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec * float64(time.Second))
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &APIAdapter{cfg: cfg, client: client, timeout: timeout}
}

// Fetch performs the GET, retrying on 500/502/503/504 up to maxAPIAttempts
// times total, and decodes the body as a JSON object or array.
func (a *APIAdapter) Fetch(ctx context.Context) ([]domain.AdapterRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var body []byte
	var lastErr error

	for attempt := 0; attempt < maxAPIAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, domain.NewAdapterError(a.cfg.URL, "request cancelled during backoff", ctx.Err())
			case <-time.After(apiBackoff(attempt - 1)):
			}
		}

		resp, err := a.doRequest(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		if retryableStatus[resp.StatusCode] {
			resp.Body.Close()
			lastErr = fmt.Errorf("http status %d", resp.StatusCode)
			slog.WarnContext(ctx, "api adapter: retryable status, retrying", "url", a.cfg.URL, "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}

		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, domain.NewAdapterError(a.cfg.URL, fmt.Sprintf("http status %d", resp.StatusCode), nil)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, domain.NewAdapterError(a.cfg.URL, "failed to read response body", err)
		}
		lastErr = nil
		break
	}

	if body == nil {
		return nil, domain.NewAdapterError(a.cfg.URL, "request failed after retries", lastErr)
	}

	return a.parse(body)
}

func (a *APIAdapter) doRequest(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range a.cfg.Headers {
		req.Header.Set(k, v)
	}
	if a.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)
	}
	return a.client.Do(req)
}

// parse decodes body as either a single JSON object (one record) or a JSON
// array (one record per element); any other shape fails (spec.md §4.B).
func (a *APIAdapter) parse(body []byte) ([]domain.AdapterRecord, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		records := make([]domain.AdapterRecord, 0, len(arr))
		for _, item := range arr {
			records = append(records, domain.AdapterRecord{Source: a.cfg.URL, Data: item})
		}
		return records, nil
	}

	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&obj); err == nil {
		return []domain.AdapterRecord{{Source: a.cfg.URL, Data: obj}}, nil
	}

	return nil, domain.NewAdapterError(a.cfg.URL, "unexpected JSON structure: expected object or array", nil)
}
