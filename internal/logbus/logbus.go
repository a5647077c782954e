// Package logbus implements the per-run log-streaming bus (spec.md §4.G).
//
// Any log emission inside the run executor, or anything it calls, is tagged
// with the current pipeline id via a scoped context value (ContextWithPipelineID).
// The Handler slog.Handler (built by NewHandler) wraps the process's base handler so every
// slog.*Context call both logs normally and — when the context carries a
// pipeline id — routes a RunLogEvent to that pipeline's subscribers.
//
// Grounded on internal/plugins/context.go's contextKey{} + WithValue pattern
// for tag propagation and internal/api/context_handler.go's Handler-wrapping
// pattern for enrichment; the multi-consumer bounded broker itself is new,
// since the teacher streams logs by polling a Postgres-backed RunStore
// rather than by a push subscription.
package logbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/rat-data/rat/platform/internal/domain"
)

// DefaultQueueSize is the default bound on a single subscriber's queue
// (spec.md §4.G default 1,000).
const DefaultQueueSize = 1000

type pipelineIDKey struct{}

// ContextWithPipelineID returns a context tagged with the pipeline a run is
// executing for. Implementations MUST carry this value across suspension
// points (goroutine handoffs re-attach it explicitly).
func ContextWithPipelineID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, pipelineIDKey{}, id)
}

// PipelineIDFromContext extracts the tagged pipeline id, if any.
func PipelineIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(pipelineIDKey{}).(uuid.UUID)
	return id, ok
}

// subscriber is one consumer's bounded mailbox.
type subscriber struct {
	id     uint64
	ch     chan domain.RunLogEvent
	global bool
}

// Bus is the single process-wide log broker. Producers never block;
// Publish drops events into a full queue rather than waiting for a slow
// consumer (spec.md §4.G / §5).
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	bypipelin map[uuid.UUID]map[uint64]*subscriber
	global    map[uint64]*subscriber
	queueSize int
}

// New creates a Bus whose subscriber queues hold at most queueSize events.
// queueSize <= 0 uses DefaultQueueSize.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		bypipelin: make(map[uuid.UUID]map[uint64]*subscriber),
		global:    make(map[uint64]*subscriber),
		queueSize: queueSize,
	}
}

// Subscribe registers a consumer for one pipeline's log events. The returned
// channel delivers events emitted after this call; it is never replayed from
// history. The returned cancel func MUST be called on disconnect — it is
// idempotent and closes the channel.
func (b *Bus) Subscribe(pipelineID uuid.UUID) (<-chan domain.RunLogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan domain.RunLogEvent, b.queueSize)}

	set, ok := b.bypipelin[pipelineID]
	if !ok {
		set = make(map[uint64]*subscriber)
		b.bypipelin[pipelineID] = set
	}
	set[sub.id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.bypipelin[pipelineID]; ok {
				delete(set, sub.id)
				if len(set) == 0 {
					delete(b.bypipelin, pipelineID)
				}
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// SubscribeGlobal registers a consumer for every pipeline's log events.
func (b *Bus) SubscribeGlobal() (<-chan domain.RunLogEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscriber{id: b.nextID, ch: make(chan domain.RunLogEvent, b.queueSize), global: true}
	b.global[sub.id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.global, sub.id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers ev to every subscriber of ev.PipelineID and to every
// global subscriber. Never blocks: a full queue drops the event and logs one
// warning for each event it drops.
func (b *Bus) Publish(ev domain.RunLogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.bypipelin[ev.PipelineID] {
		b.deliver(sub, ev)
	}
	for _, sub := range b.global {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev domain.RunLogEvent) {
	select {
	case sub.ch <- ev:
	default:
		slog.Warn("logbus: subscriber queue full, dropping event",
			"pipeline_id", ev.PipelineID, "subscriber_id", sub.id)
	}
}

// Handler is an slog.Handler that both forwards to an inner handler and, for
// records produced inside a tagged context, publishes a RunLogEvent to bus.
// Grounded on internal/api/context_handler.go's ContextHandler shape.
type Handler struct {
	inner slog.Handler
	bus   *Bus
}

// NewHandler wraps inner so every log record also reaches the bus when its
// context carries a pipeline id.
func NewHandler(inner slog.Handler, bus *Bus) *Handler {
	return &Handler{inner: inner, bus: bus}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if pid, ok := PipelineIDFromContext(ctx); ok {
		tags := make(map[string]string)
		record.Attrs(func(a slog.Attr) bool {
			tags[a.Key] = a.Value.String()
			return true
		})
		h.bus.Publish(domain.RunLogEvent{
			PipelineID: pid,
			Level:      record.Level.String(),
			Message:    record.Message,
			Timestamp:  record.Time,
			Tags:       tags,
		})
	}
	return h.inner.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs), bus: h.bus}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), bus: h.bus}
}
