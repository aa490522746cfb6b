package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ncolesummers/research-chat-agent/internal/testutil"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(evs ...events.Event) <-chan events.Event {
	ch := make(chan events.Event, len(evs))
	for _, ev := range evs {
		ch <- ev
	}
	close(ch)
	return ch
}

func translate(t *testing.T, mode domain.Mode, evs ...events.Event) (*stream.Buffer, stream.Summary, error) {
	t.Helper()
	buf := &stream.Buffer{}
	summary, err := stream.NewTranslator(mode, nil).Translate(context.Background(), feed(evs...), buf)
	return buf, summary, err
}

func finalMessages(content string) []domain.Message {
	return []domain.Message{
		domain.NewUserMessage("question"),
		domain.NewAssistantMessage(content),
		domain.NewAssistantMessage(""),
	}
}

func TestTranslateSimpleModeSuppressesChainEvents(t *testing.T) {
	buf, summary, err := translate(t, domain.ModeSimple,
		events.Event{Kind: events.KindModelStream, Name: "agent", Data: "Hello"},
		events.Event{Kind: events.KindModelStream, Name: "agent", Data: " world"},
		events.Event{Kind: events.KindChainStream, Name: "agent", Data: []domain.Message{domain.NewAssistantMessage("Hello world")}},
		events.Event{Kind: events.KindChainEnd, Name: "tools", Data: "inner"},
		events.Event{Kind: events.KindChainEnd, Name: "simple_chat", Root: true, Data: finalMessages("Hello world")},
	)
	require.NoError(t, err)

	assert.Equal(t, []stream.Kind{stream.KindConnected, stream.KindToken, stream.KindToken, stream.KindDone}, buf.Kinds())
	assert.Equal(t, "Hello world", summary.Text)
	assert.Equal(t, stream.KindDone, summary.Terminal)
	assert.True(t, summary.Delivered)
}

func TestTranslateDeepModeFlattensChainEvents(t *testing.T) {
	buf, summary, err := translate(t, domain.ModeDeepResearch,
		events.Event{Kind: events.KindChainStream, Name: "plan", Data: []domain.Message{domain.NewAssistantMessage("Plan: ")}},
		events.Event{Kind: events.KindChainEnd, Name: "researcher", Data: []interface{}{
			map[string]interface{}{"text": "a"},
			map[string]interface{}{"content": []interface{}{"b", map[string]interface{}{"text": "c"}}},
		}},
		events.Event{Kind: events.KindModelStream, Name: "report", Data: "Report"},
		events.Event{Kind: events.KindChainEnd, Name: "deep_research", Root: true, Data: finalMessages("Report")},
	)
	require.NoError(t, err)

	assert.Equal(t, []stream.Kind{
		stream.KindConnected, stream.KindToken, stream.KindToken, stream.KindToken, stream.KindDone,
	}, buf.Kinds())
	assert.Equal(t, "Plan: abcReport", summary.Text)
}

func TestTranslateFallbackTokenWhenNothingStreamed(t *testing.T) {
	for _, mode := range []domain.Mode{domain.ModeSimple, domain.ModeDeepResearch} {
		t.Run(string(mode), func(t *testing.T) {
			buf, summary, err := translate(t, mode,
				events.Event{Kind: events.KindChainEnd, Name: "graph", Root: true, Data: finalMessages("final answer")},
			)
			require.NoError(t, err)

			evs := buf.Events()
			require.Len(t, evs, 3)
			assert.Equal(t, stream.KindToken, evs[1].Type)
			assert.Equal(t, "final answer", evs[1].Token)
			assert.Equal(t, stream.KindDone, evs[2].Type)
			assert.Equal(t, 1, summary.Tokens)
		})
	}
}

func TestTranslateToolEvents(t *testing.T) {
	buf, _, err := translate(t, domain.ModeSimple,
		events.Event{Kind: events.KindToolStart, Name: "wikipedia", Data: events.ToolStartData{
			Tool: "wikipedia", Input: map[string]interface{}{"query": "Go"},
		}},
		events.Event{Kind: events.KindToolEnd, Name: "wikipedia", Data: events.ToolEndData{
			Tool: "wikipedia", Output: "Go is a language", Success: true,
		}},
	)
	require.NoError(t, err)

	evs := buf.Events()
	require.Len(t, evs, 4)
	assert.Equal(t, stream.Event{Type: stream.KindToolStart, Tool: "wikipedia", Input: map[string]interface{}{"query": "Go"}}, evs[1])
	assert.Equal(t, stream.Event{Type: stream.KindToolEnd, Tool: "wikipedia", Output: "Go is a language"}, evs[2])
	// No token was emitted and no root chain_end arrived, so there is no fallback
	assert.Equal(t, stream.KindDone, evs[3].Type)
}

func TestTranslateErrorIsTerminal(t *testing.T) {
	runErr := errors.New("node report: model unavailable")
	buf, summary, err := translate(t, domain.ModeSimple,
		events.Event{Kind: events.KindModelStream, Data: "partial"},
		events.Event{Kind: events.KindError, Name: "simple", Err: runErr},
		events.Event{Kind: events.KindModelStream, Data: "ignored"},
	)
	assert.ErrorIs(t, err, runErr)

	evs := buf.Events()
	assert.Equal(t, []stream.Kind{stream.KindConnected, stream.KindToken, stream.KindError}, buf.Kinds())
	assert.Equal(t, runErr.Error(), evs[2].Error)
	assert.Equal(t, stream.KindError, summary.Terminal)
}

func TestTranslateMalformedEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   events.Event
	}{
		{name: "unknown kind", ev: events.Event{Kind: "mystery"}},
		{name: "bad tool_start payload", ev: events.Event{Kind: events.KindToolStart, Data: "oops"}},
		{name: "bad tool_end payload", ev: events.Event{Kind: events.KindToolEnd, Data: 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, _, err := translate(t, domain.ModeSimple, tt.ev)
			assert.ErrorIs(t, err, stream.ErrMalformedEvent)
			kinds := buf.Kinds()
			assert.Equal(t, stream.KindError, kinds[len(kinds)-1])
			assert.NotContains(t, kinds, stream.KindDone)
		})
	}
}

func TestTranslateKeepsConsumingAfterEmitterFailure(t *testing.T) {
	writes := 0
	failing := stream.EmitterFunc(func(ctx context.Context, ev stream.Event) error {
		writes++
		if writes > 1 {
			return errors.New("client gone")
		}
		return nil
	})

	in := make(chan events.Event)
	go func() {
		defer close(in)
		for i := 0; i < 10; i++ {
			in <- events.Event{Kind: events.KindModelStream, Data: "x"}
		}
	}()

	summary, err := stream.NewTranslator(domain.ModeSimple, nil).Translate(testutil.NewTestContext(t), in, failing)
	require.NoError(t, err)
	assert.False(t, summary.Delivered)
	assert.Equal(t, stream.KindDone, summary.Terminal)
	assert.Equal(t, 10, summary.Tokens)
	assert.Equal(t, 2, writes)
}

func TestTranslateRecordsStreamMetrics(t *testing.T) {
	metrics, reader := testutil.SetupTestMetrics(t)
	buf := &stream.Buffer{}
	_, err := stream.NewTranslator(domain.ModeSimple, metrics).Translate(context.Background(),
		feed(events.Event{Kind: events.KindModelStream, Data: "hi"}), buf)
	require.NoError(t, err)

	assert.Equal(t, int64(3), testutil.CounterValue(t, reader, "stream_events_total"))
}
