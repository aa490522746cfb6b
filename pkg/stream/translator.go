package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
)

// ErrMalformedEvent reports a raw event the translator cannot classify
var ErrMalformedEvent = errors.New("malformed internal event")

// Summary describes a translated run
type Summary struct {
	// Text is the concatenation of every emitted token.
	Text string
	// Terminal is the kind of the terminal event, done or error.
	Terminal Kind
	// Tokens counts emitted token events.
	Tokens int
	// Delivered is false once the emitter has failed, for example after a
	// client disconnect.
	Delivered bool
}

// Translator converts raw workflow events into protocol events
type Translator struct {
	Mode    domain.Mode
	Metrics *observability.Metrics
}

// NewTranslator creates a translator for the given mode
func NewTranslator(mode domain.Mode, metrics *observability.Metrics) *Translator {
	return &Translator{Mode: mode, Metrics: metrics}
}

type translation struct {
	t       *Translator
	out     Emitter
	logger  *observability.StructuredLogger
	summary Summary
	text    strings.Builder
	emitErr error
}

// Translate consumes in until it closes or an error event arrives and emits
// connected, the translated events, then exactly one done or error. Emitter
// failures do not stop consumption so the producer is never blocked. The
// returned error is the run error carried by the terminal error event.
func (t *Translator) Translate(ctx context.Context, in <-chan events.Event, out Emitter) (Summary, error) {
	tr := &translation{
		t:       t,
		out:     out,
		logger:  observability.NewStructuredLogger("stream_translator"),
		summary: Summary{Delivered: true},
	}
	tr.emit(ctx, Event{Type: KindConnected})

	for ev := range in {
		if err := tr.handle(ctx, ev); err != nil {
			tr.emit(ctx, Event{Type: KindError, Error: err.Error()})
			go drain(in)
			return tr.finish(KindError), err
		}
	}

	tr.emit(ctx, Event{Type: KindDone})
	return tr.finish(KindDone), nil
}

func drain(in <-chan events.Event) {
	for range in {
	}
}

func (tr *translation) finish(kind Kind) Summary {
	tr.summary.Terminal = kind
	tr.summary.Text = tr.text.String()
	return tr.summary
}

func (tr *translation) handle(ctx context.Context, ev events.Event) error {
	deep := tr.t.Mode == domain.ModeDeepResearch

	switch ev.Kind {
	case events.KindModelStream:
		tr.token(ctx, Flatten(ev.Data))

	case events.KindChainStream:
		if deep {
			tr.token(ctx, Flatten(ev.Data))
		}

	case events.KindChainEnd:
		switch {
		case ev.Root:
			if tr.summary.Tokens == 0 {
				tr.token(ctx, lastContent(ev.Data))
			}
		case deep:
			tr.token(ctx, Flatten(ev.Data))
		}

	case events.KindToolStart:
		data, ok := ev.Data.(events.ToolStartData)
		if !ok {
			return fmt.Errorf("%w: tool_start payload %T", ErrMalformedEvent, ev.Data)
		}
		tr.emit(ctx, Event{Type: KindToolStart, Tool: data.Tool, Input: data.Input})

	case events.KindToolEnd:
		data, ok := ev.Data.(events.ToolEndData)
		if !ok {
			return fmt.Errorf("%w: tool_end payload %T", ErrMalformedEvent, ev.Data)
		}
		tr.emit(ctx, Event{Type: KindToolEnd, Tool: data.Tool, Output: data.Output})

	case events.KindError:
		if ev.Err != nil {
			return ev.Err
		}
		return fmt.Errorf("%s failed", ev.Name)

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedEvent, ev.Kind)
	}
	return nil
}

func (tr *translation) token(ctx context.Context, text string) {
	if text == "" {
		return
	}
	tr.summary.Tokens++
	tr.text.WriteString(text)
	tr.emit(ctx, Event{Type: KindToken, Token: text})
}

func (tr *translation) emit(ctx context.Context, ev Event) {
	if tr.emitErr != nil {
		return
	}
	if err := tr.out.Emit(ctx, ev); err != nil {
		tr.emitErr = err
		tr.summary.Delivered = false
		tr.logger.Warn(ctx, "Client stream write failed, dropping further events", map[string]interface{}{
			"event": string(ev.Type),
			"error": err.Error(),
		})
		return
	}
	tr.t.Metrics.RecordStreamEvent(ctx, string(ev.Type))
}
