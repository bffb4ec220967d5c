// Package audit implements the boundary-crossing audit record and the Hook
// that wraps workflow start/end, tool calls, LLM requests, and permission
// checks to emit one regardless of outcome.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one audit entry, persisted by an external collaborator via a
// Backend and/or surfaced on the event bus.
type Record struct {
	ID           string
	Timestamp    time.Time
	Action       string
	ActorID      string
	ResourceKind string
	ResourceID   string
	Success      bool
	ErrorMessage string
	IP           string
	UserAgent    string
	SessionID    string
	TraceID      string
	Context      map[string]any
}

// Backend persists Records. Implementations must be safe for concurrent use.
type Backend interface {
	Write(ctx context.Context, r Record) error
}

// EventSink mirrors the streaming bus's Publish signature so Hook can
// surface a lightweight Audit envelope per record without importing the
// event bus package directly.
type EventSink interface {
	Publish(domain, eventType string, payload map[string]any)
}

// Config tunes a Hook's async delivery.
type Config struct {
	AsyncQueueSize int // default 10000
	AsyncWorkers   int // default 2
}

func (c Config) withDefaults() Config {
	if c.AsyncQueueSize <= 0 {
		c.AsyncQueueSize = 10000
	}
	if c.AsyncWorkers <= 0 {
		c.AsyncWorkers = 2
	}
	return c
}

// Hook wraps boundary operations with an audit record. A hook failure (a
// full queue, a panicking Backend, an event-sink error) is logged and
// discarded: it must never fail the operation it observed.
type Hook struct {
	backends []Backend
	events   EventSink
	logger   *zap.Logger

	queue chan Record
	wg    sync.WaitGroup

	closeMu sync.Mutex
	closed  bool

	idSeq uint64
	idMu  sync.Mutex
}

// New constructs a Hook and starts its async delivery workers. Call Close to
// drain pending records before shutdown.
func New(cfg Config, events EventSink, logger *zap.Logger, backends ...Backend) *Hook {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	h := &Hook{
		backends: backends,
		events:   events,
		logger:   logger.With(zap.String("component", "audit_hook")),
		queue:    make(chan Record, cfg.AsyncQueueSize),
	}

	for i := 0; i < cfg.AsyncWorkers; i++ {
		h.wg.Add(1)
		go h.worker()
	}

	return h
}

func (h *Hook) worker() {
	defer h.wg.Done()
	for r := range h.queue {
		h.deliver(r)
	}
}

func (h *Hook) deliver(r Record) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("audit hook panicked while delivering a record", zap.Any("recovered", rec))
		}
	}()

	if h.events != nil {
		h.events.Publish("Audit", "Record", map[string]any{
			"action":       r.Action,
			"actorId":      r.ActorID,
			"resourceKind": r.ResourceKind,
			"resourceId":   r.ResourceID,
			"success":      r.Success,
			"errorMessage": r.ErrorMessage,
			"traceId":      r.TraceID,
		})
	}

	for _, b := range h.backends {
		if err := b.Write(context.Background(), r); err != nil {
			h.logger.Warn("audit backend write failed", zap.String("action", r.Action), zap.Error(err))
		}
	}
}

// Wrap runs fn and unconditionally records a boundary-crossing audit entry
// describing action/resourceKind/resourceID and fn's outcome, then returns
// fn's error unchanged. Recording never blocks or fails the caller: a full
// queue drops the record with a logged warning.
func (h *Hook) Wrap(ctx context.Context, action, resourceKind, resourceID string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	h.Enqueue(Record{
		Action:       action,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Success:      err == nil,
		ErrorMessage: errMessage(err),
	})
	return err
}

// Enqueue records r asynchronously, filling in ID and Timestamp when unset.
func (h *Hook) Enqueue(r Record) {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		h.logger.Warn("audit hook is closed, dropping record", zap.String("action", r.Action))
		return
	}
	h.closeMu.Unlock()

	if r.ID == "" {
		r.ID = h.nextID()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	select {
	case h.queue <- r:
	default:
		h.logger.Warn("audit queue full, dropping record", zap.String("action", r.Action))
	}
}

// Close stops accepting new records, drains the queue, and waits for all
// workers to finish.
func (h *Hook) Close() {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.closed = true
	h.closeMu.Unlock()

	close(h.queue)
	h.wg.Wait()
}

func (h *Hook) nextID() string {
	h.idMu.Lock()
	defer h.idMu.Unlock()
	h.idSeq++
	return fmt.Sprintf("audit_%d_%d", time.Now().UnixNano(), h.idSeq)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// MemoryBackend retains the most recent records in a bounded ring, useful
// for tests and for a local /audit inspection endpoint.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
	maxSize int
}

// NewMemoryBackend constructs a MemoryBackend retaining at most maxSize
// records (default 10000).
func NewMemoryBackend(maxSize int) *MemoryBackend {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryBackend{maxSize: maxSize}
}

// Write appends r, evicting the oldest 10% once at capacity.
func (m *MemoryBackend) Write(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.records) >= m.maxSize {
		evict := m.maxSize / 10
		if evict < 1 {
			evict = 1
		}
		m.records = m.records[evict:]
	}
	m.records = append(m.records, r)
	return nil
}

// All returns a snapshot of every retained record, oldest first.
func (m *MemoryBackend) All() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
