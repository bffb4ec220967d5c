// Package eventbus implements the in-process streaming event bus: a typed
// fan-out of Envelopes from whichever step is currently running to every
// subscriber, with a per-subscriber bounded buffer and a configurable
// backpressure policy. Generalized from the teacher's bidirectional
// streaming package, which fans StreamChunks out to a single consumer per
// stream, to a many-subscriber broadcast of structured domain events.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Domain classifies an Envelope's origin.
type Domain string

const (
	DomainChat        Domain = "Chat"
	DomainInteraction Domain = "Interaction"
	DomainThinking    Domain = "Thinking"
	DomainTool        Domain = "Tool"
	DomainAudit       Domain = "Audit"
)

// EventType names the shape of an Envelope's payload.
type EventType string

const (
	TypeDelta           EventType = "Delta"
	TypeMessage         EventType = "Message"
	TypeForm            EventType = "Form"
	TypeSuspendForInput EventType = "SuspendForInput"
	TypeToolStart       EventType = "ToolStart"
	TypeToolComplete    EventType = "ToolComplete"
	TypeToolError       EventType = "ToolError"
	TypeError           EventType = "Error"
	TypeTraceStart      EventType = "TraceStart"
	TypeTraceEnd        EventType = "TraceEnd"
	TypeDropped         EventType = "Dropped"
)

// Envelope is an immutable published event. Id is monotonically increasing
// across the whole Bus, giving events a total order within a single
// publisher and a stable tiebreak across publishers.
type Envelope struct {
	ID        int64
	Domain    Domain
	Type      EventType
	Timestamp time.Time
	Payload   map[string]any
}

// Handler receives envelopes for one subscriber. It must not block for long;
// slow handlers fall behind their own buffer, not the publisher's.
type Handler func(Envelope)

// BackpressurePolicy governs what happens when a subscriber's buffer is full.
type BackpressurePolicy int

const (
	// DropOldest evicts the buffer's oldest unread envelope to make room,
	// and publishes a Dropped audit event. This is the default.
	DropOldest BackpressurePolicy = iota
	// DropNewest discards the envelope that would have overflowed the
	// buffer, publishing a Dropped audit event.
	DropNewest
	// BlockWithTimeout blocks the publisher up to BlockTimeout waiting for
	// buffer space before falling back to DropNewest behavior.
	BlockWithTimeout
)

// SubscriberConfig tunes one subscriber's buffer and backpressure behavior.
type SubscriberConfig struct {
	BufferSize   int
	Policy       BackpressurePolicy
	BlockTimeout time.Duration
}

func defaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{BufferSize: 256, Policy: DropOldest, BlockTimeout: 2 * time.Second}
}

// Bus is the process-wide (or per-server) event bus. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	seq         int64
	logger      *zap.Logger
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[string]*subscription),
		logger:      logger.With(zap.String("component", "event_bus")),
	}
}

type subscription struct {
	id      string
	handler Handler
	cfg     SubscriberConfig
	ch      chan Envelope
	done    chan struct{}
	mu      sync.Mutex // serializes drop-oldest eviction against concurrent publishers
	bus     *Bus
}

// Subscribe registers handler under subscriberID, replacing any existing
// subscription with the same id. cfg is optional; the zero value selects
// defaultSubscriberConfig.
func Subscribe(b *Bus, subscriberID string, handler Handler, cfg SubscriberConfig) {
	if cfg.BufferSize <= 0 {
		def := defaultSubscriberConfig()
		cfg.BufferSize = def.BufferSize
		if cfg.BlockTimeout <= 0 {
			cfg.BlockTimeout = def.BlockTimeout
		}
	}
	sub := &subscription{
		id:      subscriberID,
		handler: handler,
		cfg:     cfg,
		ch:      make(chan Envelope, cfg.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	b.mu.Lock()
	if old, ok := b.subscribers[subscriberID]; ok {
		close(old.done)
	}
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()

	go sub.dispatch(b.logger)
}

// Subscribe registers handler under subscriberID on this Bus.
func (b *Bus) Subscribe(subscriberID string, handler Handler, cfg SubscriberConfig) {
	Subscribe(b, subscriberID, handler, cfg)
}

// Unsubscribe removes a subscriber and stops its dispatch goroutine. Events
// already queued in its buffer are dropped without being delivered.
func (b *Bus) Unsubscribe(subscriberID string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	if ok {
		delete(b.subscribers, subscriberID)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish constructs an Envelope and broadcasts it to every current
// subscriber. It implements funcagent.EventSink and flow.EventSink so the
// Flow Engine and the Deterministic Agent Executor can both publish through
// the same Bus without importing it directly.
func (b *Bus) Publish(domain, eventType string, payload map[string]any) {
	env := Envelope{
		ID:        atomic.AddInt64(&b.seq, 1),
		Domain:    Domain(domain),
		Type:      EventType(eventType),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	b.broadcast(env)
}

func (b *Bus) broadcast(env Envelope) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		s.enqueue(env)
	}
}

func (s *subscription) enqueue(env Envelope) {
	select {
	case <-s.done:
		return
	default:
	}

	switch s.cfg.Policy {
	case BlockWithTimeout:
		timer := time.NewTimer(s.cfg.BlockTimeout)
		defer timer.Stop()
		select {
		case s.ch <- env:
		case <-timer.C:
			s.reportDropped(env)
		case <-s.done:
		}
	case DropNewest:
		select {
		case s.ch <- env:
		default:
			s.reportDropped(env)
		}
	default: // DropOldest
		s.mu.Lock()
		select {
		case s.ch <- env:
			s.mu.Unlock()
			return
		default:
		}
		dropped := env
		select {
		case dropped = <-s.ch:
		default:
		}
		select {
		case s.ch <- env:
		default:
			dropped = env
		}
		s.mu.Unlock()
		// A dropped Dropped notice is not itself reported, so two full
		// subscribers cannot report each other's evictions forever.
		if dropped.Domain != DomainAudit || dropped.Type != TypeDropped {
			s.reportDropped(dropped)
		}
	}
}

func (s *subscription) reportDropped(env Envelope) {
	s.bus.broadcast(Envelope{
		ID:        atomic.AddInt64(&s.bus.seq, 1),
		Domain:    DomainAudit,
		Type:      TypeDropped,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"subscriberId": s.id,
			"domain":       string(env.Domain),
			"type":         string(env.Type),
			"eventId":      env.ID,
		},
	})
}

func (s *subscription) dispatch(logger *zap.Logger) {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.ch:
			s.invoke(env, logger)
		}
	}
}

func (s *subscription) invoke(env Envelope, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event subscriber handler panicked",
				zap.String("subscriberId", s.id),
				zap.Any("recovered", r))
		}
	}()
	s.handler(env)
}
