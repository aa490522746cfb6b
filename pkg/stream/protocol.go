// Package stream turns the raw workflow event stream into the client
// protocol and frames it as server-sent events.
package stream

import (
	"context"
	"sync"
)

// Kind is the type of a protocol event
type Kind string

const (
	KindConnected Kind = "connected"
	KindToken     Kind = "token"
	KindToolStart Kind = "tool_start"
	KindToolEnd   Kind = "tool_end"
	KindDone      Kind = "done"
	KindError     Kind = "error"
)

// Terminal reports whether k ends a stream
func (k Kind) Terminal() bool {
	return k == KindDone || k == KindError
}

// Event is one client-facing protocol event
type Event struct {
	Type   Kind        `json:"type"`
	Token  string      `json:"token,omitempty"`
	Tool   string      `json:"tool,omitempty"`
	Input  interface{} `json:"input,omitempty"`
	Output interface{} `json:"output,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Emitter delivers protocol events to a client
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to the Emitter interface
type EmitterFunc func(ctx context.Context, ev Event) error

// Emit calls f
func (f EmitterFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Buffer collects emitted events in memory
type Buffer struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event
func (b *Buffer) Emit(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return nil
}

// Events returns a copy of the collected events
func (b *Buffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Kinds returns the type of every collected event in order
func (b *Buffer) Kinds() []Kind {
	events := b.Events()
	kinds := make([]Kind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Type
	}
	return kinds
}
