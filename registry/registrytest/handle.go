// Package registrytest provides an in-memory Handle that records the events it
// is sent.
package registrytest

import (
	"sync"

	"chathub/protocol"
)

type Handle struct {
	id string

	mu     sync.Mutex
	events []protocol.Event
	closed bool
	reason string
	full   bool
}

func NewHandle(id string) *Handle {
	return &Handle{id: id}
}

func (h *Handle) ID() string { return h.id }

func (h *Handle) Send(ev protocol.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.full {
		return false
	}
	h.events = append(h.events, ev)
	return true
}

func (h *Handle) Close(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.reason = reason
}

// SetFull makes subsequent sends report a dropped event.
func (h *Handle) SetFull(full bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.full = full
}

func (h *Handle) Closed() (bool, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed, h.reason
}

func (h *Handle) Events() []protocol.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]protocol.Event, len(h.events))
	copy(out, h.events)
	return out
}

// OfType returns the recorded events of the given type in order.
func (h *Handle) OfType(eventType string) []protocol.Event {
	var out []protocol.Event
	for _, ev := range h.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
}
