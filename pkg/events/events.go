// Package events defines the raw event stream emitted while a workflow
// graph executes. The stream package turns these events into the client
// protocol.
package events

import (
	"context"
	"sync"
)

// Kind classifies a raw event
type Kind string

const (
	// KindModelStream carries one incremental text chunk from a model call.
	KindModelStream Kind = "model_stream"
	// KindChainStream carries the output of a finished node that was not
	// already delivered as model stream chunks.
	KindChainStream Kind = "chain_stream"
	// KindChainEnd marks the end of a graph. Data holds the final messages.
	KindChainEnd  Kind = "chain_end"
	KindToolStart Kind = "tool_start"
	KindToolEnd   Kind = "tool_end"
	// KindError terminates the stream. Err is set.
	KindError Kind = "error"
)

// Event is one raw event produced by the executor
type Event struct {
	Kind  Kind
	RunID string
	// Name is the node, tool or graph that produced the event.
	Name string
	// Root is true for events of the top-level graph itself.
	Root bool
	Data interface{}
	Err  error
}

// ToolStartData is the payload of a tool_start event
type ToolStartData struct {
	Tool  string                 `json:"tool"`
	Input map[string]interface{} `json:"input"`
}

// ToolEndData is the payload of a tool_end event
type ToolEndData struct {
	Tool    string `json:"tool"`
	Output  string `json:"output"`
	Success bool   `json:"success"`
}

// Sink receives raw events. Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Discard drops every event
var Discard Sink = discard{}

type discard struct{}

func (discard) Send(context.Context, Event) error { return nil }

// ChannelSink forwards events to a channel in send order
type ChannelSink struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChannelSink creates a sink backed by a channel of the given buffer size
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Send blocks until the event is accepted or ctx is done. Events sent after
// Close are dropped.
func (s *ChannelSink) Send(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying channel. Safe to call more than once.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// WithRunID returns a sink that stamps every event with runID
func WithRunID(sink Sink, runID string) Sink {
	return SinkFunc(func(ctx context.Context, ev Event) error {
		if ev.RunID == "" {
			ev.RunID = runID
		}
		return sink.Send(ctx, ev)
	})
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, ev Event) error

// Send calls f
func (f SinkFunc) Send(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Recorder collects events in memory, mainly for tests and CLI replay
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Send records the event
func (r *Recorder) Send(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns recorded events of the given kind
func (r *Recorder) OfKind(kind Kind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
