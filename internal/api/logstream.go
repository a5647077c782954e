package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// MountLogStreamRoutes registers the per-run log-streaming endpoint
// (spec.md §4.G, §6).
func MountLogStreamRoutes(r chi.Router, srv *Server) {
	r.Get("/logs/stream/{id}", srv.HandleStreamLogs)
}

// HandleStreamLogs streams a pipeline's log events as Server-Sent Events,
// grounded on the teacher's run-log SSE handler but push-based: it
// subscribes to the log bus instead of polling a store.
func (s *Server) HandleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		errorJSON(w, "invalid pipeline id", "INVALID_ARGUMENT", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)
	if s.SSELimiter != nil && !s.SSELimiter.Acquire(ip) {
		errorJSON(w, "too many SSE connections", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
		return
	}
	defer func() {
		if s.SSELimiter != nil {
			s.SSELimiter.Release(ip)
		}
	}()

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(MaxSSEDurationSeconds)*time.Second)
	defer cancel()

	events, unsubscribe := s.LogBus.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)
	flush := func() {
		if canFlush {
			flusher.Flush()
		}
	}

	sendEvent := func(event string, payload interface{}) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flush()
	}

	for {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				sendEvent("error", map[string]string{
					"code":    "TIMEOUT",
					"message": "SSE connection closed: maximum duration exceeded",
				})
			} else {
				sendEvent("error", map[string]string{
					"code":    "DISCONNECTED",
					"message": "SSE connection closed",
				})
			}
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			sendEvent("log", ev)
		}
	}
}
