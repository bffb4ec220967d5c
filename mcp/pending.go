package mcp

import (
	"sync"

	"github.com/archflow/archflow/archflowerr"
)

// pendingTable correlates outgoing requests with their eventual response.
// Insertion is multi-writer (guarded per id via the map's own mutex);
// fulfilment is single-writer from the transport's reader goroutine.
type pendingTable struct {
	mu   sync.Mutex
	slot map[string]chan *Message
}

func newPendingTable() *pendingTable {
	return &pendingTable{slot: make(map[string]chan *Message)}
}

// register creates a one-shot completion slot for id.
func (p *pendingTable) register(id string) chan *Message {
	ch := make(chan *Message, 1)
	p.mu.Lock()
	p.slot[id] = ch
	p.mu.Unlock()
	return ch
}

// fulfil delivers resp to the slot registered for its id, if any.
func (p *pendingTable) fulfil(resp *Message) bool {
	id := resp.IDString()
	p.mu.Lock()
	ch, ok := p.slot[id]
	if ok {
		delete(p.slot, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// release removes and discards id's slot without fulfilling it (used on
// cancellation).
func (p *pendingTable) release(id string) {
	p.mu.Lock()
	delete(p.slot, id)
	p.mu.Unlock()
}

// cancelAll fulfils every outstanding slot with a transport-error response,
// used when the underlying transport fails.
func (p *pendingTable) cancelAll(err error) {
	p.mu.Lock()
	slots := p.slot
	p.slot = make(map[string]chan *Message)
	p.mu.Unlock()

	for _, ch := range slots {
		ch <- NewErrorResponse(nil, CodeInternalError, archflowerr.Wrap(archflowerr.KindTransport, "transport_closed", err.Error(), err).Error(), nil)
	}
}
