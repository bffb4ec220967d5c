package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishFansOutToAllSubscribers(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var gotA, gotB []Envelope
	b.Subscribe("a", func(e Envelope) {
		mu.Lock()
		gotA = append(gotA, e)
		mu.Unlock()
	}, SubscriberConfig{})
	b.Subscribe("b", func(e Envelope) {
		mu.Lock()
		gotB = append(gotB, e)
		mu.Unlock()
	}, SubscriberConfig{})

	b.Publish("Tool", "ToolStart", map[string]any{"step": "s1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(gotA) == 1 && len(gotB) == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, DomainTool, gotA[0].Domain)
	assert.Equal(t, TypeToolStart, gotA[0].Type)
	assert.Equal(t, "s1", gotA[0].Payload["step"])
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	count := 0
	b.Subscribe("a", func(e Envelope) {
		mu.Lock()
		count++
		mu.Unlock()
	}, SubscriberConfig{})

	b.Publish("Audit", "TraceStart", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, time.Millisecond)

	b.Unsubscribe("a")
	b.Publish("Audit", "TraceEnd", nil)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestBus_EventIDsAreMonotonic(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	var ids []int64
	b.Subscribe("a", func(e Envelope) {
		mu.Lock()
		ids = append(ids, e.ID)
		mu.Unlock()
	}, SubscriberConfig{})

	for i := 0; i < 5; i++ {
		b.Publish("Chat", "Delta", map[string]any{"i": i})
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ids) == 5
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestBus_DropOldestEmitsDroppedAuditEvent(t *testing.T) {
	b := New(nil)

	release := make(chan struct{})
	var slowSeen int
	var mu sync.Mutex
	b.Subscribe("slow", func(e Envelope) {
		<-release
		mu.Lock()
		slowSeen++
		mu.Unlock()
	}, SubscriberConfig{BufferSize: 1, Policy: DropOldest})

	var droppedMu sync.Mutex
	var droppedCount int
	b.Subscribe("auditor", func(e Envelope) {
		if e.Domain == DomainAudit && e.Type == TypeDropped {
			droppedMu.Lock()
			droppedCount++
			droppedMu.Unlock()
		}
	}, SubscriberConfig{BufferSize: 16})

	// First publish is picked up immediately by the slow handler's blocking
	// call, so it never occupies the buffer; the next two fill and overflow
	// the size-1 buffer, forcing an eviction.
	b.Publish("Tool", "ToolStart", map[string]any{"n": 1})
	time.Sleep(10 * time.Millisecond)
	b.Publish("Tool", "ToolStart", map[string]any{"n": 2})
	b.Publish("Tool", "ToolStart", map[string]any{"n": 3})

	require.Eventually(t, func() bool {
		droppedMu.Lock()
		defer droppedMu.Unlock()
		return droppedCount >= 1
	}, time.Second, time.Millisecond)

	close(release)
}

func TestBus_PanickingHandlerDoesNotAffectOtherSubscribers(t *testing.T) {
	b := New(nil)

	b.Subscribe("panicker", func(e Envelope) {
		panic("boom")
	}, SubscriberConfig{})

	var mu sync.Mutex
	got := false
	b.Subscribe("survivor", func(e Envelope) {
		mu.Lock()
		got = true
		mu.Unlock()
	}, SubscriberConfig{})

	b.Publish("Tool", "ToolStart", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, time.Second, time.Millisecond)

	// A second publish confirms the panicker's dispatch goroutine is still
	// alive and serving subsequent events after recovering.
	mu.Lock()
	got = false
	mu.Unlock()
	b.Publish("Tool", "ToolComplete", nil)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, time.Second, time.Millisecond)
}

func TestBus_ReplacingSubscriptionStopsThePrevious(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	firstCount := 0
	b.Subscribe("dup", func(e Envelope) {
		mu.Lock()
		firstCount++
		mu.Unlock()
	}, SubscriberConfig{})

	secondCount := 0
	b.Subscribe("dup", func(e Envelope) {
		mu.Lock()
		secondCount++
		mu.Unlock()
	}, SubscriberConfig{})

	b.Publish("Chat", "Message", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCount == 1
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, firstCount)
}
