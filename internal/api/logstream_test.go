package api_test

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/api"
	"github.com/rat-data/rat/platform/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogBus struct {
	ch chan domain.RunLogEvent
}

func (f *fakeLogBus) Subscribe(uuid.UUID) (<-chan domain.RunLogEvent, func()) {
	return f.ch, func() {}
}

func TestStreamLogs_DeliversEvent(t *testing.T) {
	bus := &fakeLogBus{ch: make(chan domain.RunLogEvent, 1)}
	srv := &api.Server{Pipelines: newFakePipelineService(), LogBus: bus}
	r := api.NewRouter(srv)

	id := uuid.New()
	bus.ch <- domain.RunLogEvent{PipelineID: id, Level: "info", Message: "hello"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream/"+id.String(), nil)
	ctx, cancel := context.WithTimeout(req.Context(), 500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "event: log")
	assert.Contains(t, body, "hello")
}

func TestStreamLogs_InvalidID(t *testing.T) {
	bus := &fakeLogBus{ch: make(chan domain.RunLogEvent)}
	srv := &api.Server{Pipelines: newFakePipelineService(), LogBus: bus}
	r := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream/not-a-uuid", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStreamLogs_RejectsWhenSSELimiterExhausted(t *testing.T) {
	bus := &fakeLogBus{ch: make(chan domain.RunLogEvent)}
	limiter := api.NewSSELimiter()
	srv := &api.Server{Pipelines: newFakePipelineService(), LogBus: bus, SSELimiter: limiter}
	r := api.NewRouter(srv)

	// Hold open MaxSSEPerIP connections concurrently from the same IP so the
	// limiter slot isn't released before the next request tries to acquire one.
	id := uuid.New()
	var wg sync.WaitGroup
	holds := make([]context.CancelFunc, api.MaxSSEPerIP)
	for i := 0; i < api.MaxSSEPerIP; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		holds[i] = cancel
		req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream/"+id.String(), nil).WithContext(ctx)
		req.RemoteAddr = "10.0.0.9:1234"
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	require.Eventually(t, func() bool { return limiter.IPCount("10.0.0.9") == int64(api.MaxSSEPerIP) }, time.Second, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream/"+id.String(), nil)
	req.RemoteAddr = "10.0.0.9:5678"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	for _, cancel := range holds {
		cancel()
	}
	wg.Wait()
}

func readSSELines(body string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestStreamLogs_EmitsTimeoutEventOnDeadline(t *testing.T) {
	bus := &fakeLogBus{ch: make(chan domain.RunLogEvent)}
	srv := &api.Server{Pipelines: newFakePipelineService(), LogBus: bus}
	r := api.NewRouter(srv)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/stream/"+id.String(), nil)
	ctx, cancel := context.WithTimeout(req.Context(), 20*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// The request context's own deadline fires first, and the handler's
	// internal timeout context inherits context.DeadlineExceeded from it.
	lines := readSSELines(w.Body.String())
	require.NotEmpty(t, lines)
	assert.Contains(t, w.Body.String(), "TIMEOUT")
}
