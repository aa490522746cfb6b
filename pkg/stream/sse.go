package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const (
	dataPrefix = "data: "
	// DoneSentinel is the literal payload some transports expect in place of
	// the JSON done event
	DoneSentinel = "[DONE]"

	maxLineSize = 1 << 20
)

// WriterOption configures a Writer
type WriterOption func(*Writer)

// WithDoneSentinel makes the writer send [DONE] instead of the JSON done event
func WithDoneSentinel(enabled bool) WriterOption {
	return func(w *Writer) {
		w.doneSentinel = enabled
	}
}

// Writer frames protocol events as server-sent events
type Writer struct {
	mu           sync.Mutex
	w            io.Writer
	flusher      http.Flusher
	doneSentinel bool
}

// NewWriter creates a writer. If w is an http.Flusher every event is
// flushed as soon as it is written.
func NewWriter(w io.Writer, opts ...WriterOption) *Writer {
	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// SetHeaders sets the response headers of an event stream
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Emit writes one event
func (sw *Writer) Emit(_ context.Context, ev Event) error {
	var payload []byte
	if ev.Type == KindDone && sw.doneSentinel {
		payload = []byte(DoneSentinel)
	} else {
		var err error
		payload, err = json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
		}
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "%s%s\n\n", dataPrefix, payload); err != nil {
		return fmt.Errorf("failed to write %s event: %w", ev.Type, err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Parser decodes a server-sent event stream written by Writer
type Parser struct {
	scanner *bufio.Scanner
}

// NewParser creates a parser reading from r
func NewParser(r io.Reader) *Parser {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Parser{scanner: scanner}
}

// Next returns the next event. It returns io.EOF when the stream ends.
// A payload that is not valid JSON yields an error event rather than an
// error, so callers see it in sequence.
func (p *Parser) Next() (Event, error) {
	for p.scanner.Scan() {
		line := strings.TrimRight(p.scanner.Text(), "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == DoneSentinel {
			return Event{Type: KindDone}, nil
		}

		var ev Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Type == "" {
			msg := "malformed event payload"
			if err != nil {
				msg = fmt.Sprintf("%s: %v", msg, err)
			}
			return Event{Type: KindError, Error: msg}, nil
		}
		return ev, nil
	}
	if err := p.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("failed to read event stream: %w", err)
	}
	return Event{}, io.EOF
}

// ReadAll parses events until the stream ends or a terminal event arrives
func ReadAll(r io.Reader) ([]Event, error) {
	p := NewParser(r)
	var out []Event
	for {
		ev, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ev)
		if ev.Type.Terminal() {
			return out, nil
		}
	}
}
