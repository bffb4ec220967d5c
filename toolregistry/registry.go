// Package toolregistry is the in-process Workflow-as-Tool registry: it
// indexes tools by id and name, executes them, and can synthesize
// composite (sequential pipe) and parallel (fan-out/merge) tools from a
// list of existing ones.
package toolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/archflow/archflow/archflowerr"
	"github.com/archflow/archflow/tool"
)

// EventKind enumerates tool lifecycle events.
type EventKind string

const (
	EventRegistered   EventKind = "Registered"
	EventUnregistered EventKind = "Unregistered"
	EventExecuted     EventKind = "Executed"
	EventFailed       EventKind = "Failed"
)

// Event is broadcast to listeners on every lifecycle transition.
type Event struct {
	Kind   EventKind
	ToolID string
	Name   string
	At     time.Time
}

// Listener observes registry lifecycle events.
type Listener func(Event)

// Entry pairs a tool descriptor with the id it was registered under.
type Entry struct {
	ID         string
	Descriptor *tool.Descriptor
}

// WorkflowToolResult is the outcome of Execute.
type WorkflowToolResult struct {
	Success     bool
	Output      any
	Error       string
	Duration    time.Duration
	ExecutionID string
	Metadata    map[string]any
}

// Registry is the by-id/by-name tool index. Reads share an
// RLock; register/unregister serialize under Lock, mirroring the
// concurrency contract of a concurrent-readers/serialized-mutators map.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Entry
	byName   map[string]*Entry
	logger   *zap.Logger
	listener sync.Mutex
	notify   []Listener
	clock    func() time.Time
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		byID:   make(map[string]*Entry),
		byName: make(map[string]*Entry),
		logger: logger.With(zap.String("component", "tool_registry")),
		clock:  time.Now,
	}
}

// Subscribe adds a lifecycle listener. Listener panics are recovered and
// logged, never propagated to the caller of Register/Execute.
func (r *Registry) Subscribe(l Listener) {
	r.listener.Lock()
	defer r.listener.Unlock()
	r.notify = append(r.notify, l)
}

func (r *Registry) broadcast(ev Event) {
	r.listener.Lock()
	listeners := append([]Listener(nil), r.notify...)
	r.listener.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("tool registry listener panicked", zap.Any("recover", rec))
				}
			}()
			l(ev)
		}()
	}
}

// Register adds a tool under id (a fresh UUID when id is empty),
// rejecting duplicate ids. A
// duplicate name is allowed (name lookup returns the most recent
// registration) since ids are the registry's primary key.
func (r *Registry) Register(id string, d *tool.Descriptor) error {
	if d == nil {
		return archflowerr.New(archflowerr.KindValidation, "missing_descriptor", "tool descriptor is required")
	}
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.byID[id]; exists {
		r.mu.Unlock()
		return archflowerr.New(archflowerr.KindConflict, "duplicate_tool_id", fmt.Sprintf("tool id %q already registered", id))
	}
	entry := &Entry{ID: id, Descriptor: d}
	r.byID[id] = entry
	r.byName[d.Name] = entry
	r.mu.Unlock()

	r.logger.Info("tool registered", zap.String("id", id), zap.String("name", d.Name))
	r.broadcast(Event{Kind: EventRegistered, ToolID: id, Name: d.Name, At: r.clock()})
	return nil
}

// Unregister removes a tool by id, returning the removed entry.
func (r *Registry) Unregister(id string) (*Entry, error) {
	r.mu.Lock()
	entry, exists := r.byID[id]
	if !exists {
		r.mu.Unlock()
		return nil, archflowerr.New(archflowerr.KindNotFound, "tool_not_found", fmt.Sprintf("tool id %q not registered", id))
	}
	delete(r.byID, id)
	if r.byName[entry.Descriptor.Name] == entry {
		delete(r.byName, entry.Descriptor.Name)
	}
	r.mu.Unlock()

	r.logger.Info("tool unregistered", zap.String("id", id), zap.String("name", entry.Descriptor.Name))
	r.broadcast(Event{Kind: EventUnregistered, ToolID: id, Name: entry.Descriptor.Name, At: r.clock()})
	return entry, nil
}

// ByID looks up a tool by its registry id.
func (r *Registry) ByID(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// ByName looks up a tool by its descriptor name.
func (r *Registry) ByName(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	return e, ok
}

// List returns every registered entry in no particular order.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e)
	}
	return out
}

// Execute invokes the tool registered under id, recording an execution
// lifecycle event in all cases.
func (r *Registry) Execute(ctx context.Context, id string, input map[string]any) WorkflowToolResult {
	start := r.clock()
	executionID := uuid.NewString()

	entry, ok := r.ByID(id)
	if !ok {
		r.broadcast(Event{Kind: EventFailed, ToolID: id, At: r.clock()})
		return WorkflowToolResult{Success: false, Error: "tool not found", ExecutionID: executionID}
	}

	result, err := entry.Descriptor.Invoke(ctx, input)
	duration := r.clock().Sub(start)

	out := WorkflowToolResult{
		Duration:    duration,
		ExecutionID: executionID,
		Metadata:    result.Metadata,
	}
	if err == nil && result.Status == tool.StatusSuccess {
		out.Success = true
		out.Output = result.Data
		r.broadcast(Event{Kind: EventExecuted, ToolID: id, Name: entry.Descriptor.Name, At: r.clock()})
	} else {
		out.Success = false
		switch {
		case err != nil:
			out.Error = err.Error()
		case result.Err != nil:
			out.Error = result.Err.Error()
		default:
			out.Error = result.Message
		}
		r.broadcast(Event{Kind: EventFailed, ToolID: id, Name: entry.Descriptor.Name, At: r.clock()})
	}
	return out
}
