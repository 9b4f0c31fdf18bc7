package events

import (
	"sync"

	"loanledger/core/types"
)

// Event represents a structured state change emitted by a component.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves into the
// generic attribute form consumed by sinks (logs, metrics, RPC).
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events for a single unit of work. The runtime flushes the
// buffer on commit and drops it on revert so aborted operations never leak
// events.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.events = append(b.events, evt)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.events)
}

// Mark returns the current buffer position.
func (b *Buffer) Mark() int { return b.Len() }

// Truncate drops every event recorded after mark.
func (b *Buffer) Truncate(mark int) {
	if b == nil || mark < 0 || mark > len(b.events) {
		return
	}
	b.events = b.events[:mark]
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	out := b.events
	b.events = nil
	return out
}

// Recorder is a concurrency safe emitter that retains every event it sees.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	events := r.Events()
	out := make([]string, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.EventType())
	}
	return out
}

// Fanout forwards every event to each configured emitter.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
