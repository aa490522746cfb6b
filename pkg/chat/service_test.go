package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ncolesummers/research-chat-agent/internal/testutil"
	"github.com/ncolesummers/research-chat-agent/pkg/chat"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/storage"
	"github.com/ncolesummers/research-chat-agent/pkg/stream"
	"github.com/ncolesummers/research-chat-agent/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner replays fixed raw events and records the request
type scriptedRunner struct {
	events []events.Event
	got    workflow.RunRequest
	// onStart runs before any event is sent
	onStart func()
}

func (r *scriptedRunner) Stream(ctx context.Context, req workflow.RunRequest) <-chan events.Event {
	r.got = req
	if r.onStart != nil {
		r.onStart()
	}
	ch := make(chan events.Event, len(r.events))
	for _, ev := range r.events {
		ch <- ev
	}
	close(ch)
	return ch
}

func newService(t *testing.T, runner chat.Runner, store domain.ChatStore) *chat.Service {
	t.Helper()
	svc, err := chat.NewService(runner, store, chat.NewTitleGenerator(testutil.NewMockLLMClient(testutil.TextResponse("Llamas")), 0, 0), nil)
	require.NoError(t, err)
	return svc
}

func TestHandleStoresUserBeforeAndAssistantAfterDone(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c, err := store.CreateChat(ctx, "u", "")
	require.NoError(t, err)

	runner := &scriptedRunner{events: []events.Event{
		{Kind: events.KindModelStream, Data: "Llamas "},
		{Kind: events.KindModelStream, Data: "hum."},
	}}
	runner.onStart = func() {
		stored, err := store.ListMessages(ctx, c.ID)
		require.NoError(t, err)
		require.Len(t, stored, 1, "user message is stored before the run starts")
		assert.Equal(t, domain.RoleUser, stored[0].Role)
	}
	svc := newService(t, runner, store)

	buf := &stream.Buffer{}
	result, err := svc.Handle(ctx, domain.ChatRequest{
		ChatID:     c.ID,
		NewMessage: "  Do llamas hum?  ",
		Mode:       "simple",
		Messages:   []domain.Message{domain.NewUserMessage("hi"), domain.NewAssistantMessage("hello")},
	}, buf)
	require.NoError(t, err)

	assert.Equal(t, stream.KindDone, result.Summary.Terminal)
	assert.Equal(t, []stream.Kind{stream.KindConnected, stream.KindToken, stream.KindToken, stream.KindDone}, buf.Kinds())

	require.Len(t, runner.got.Messages, 3)
	assert.Equal(t, "Do llamas hum?", runner.got.Messages[2].Content)
	assert.Equal(t, domain.ModeSimple, runner.got.Mode)

	stored, err := store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, domain.RoleAssistant, stored[1].Role)
	assert.Equal(t, "Llamas hum.", stored[1].Content)
}

func TestHandleDoesNotStoreAssistantOnError(t *testing.T) {
	store := storage.NewMemoryStore()
	runner := &scriptedRunner{events: []events.Event{
		{Kind: events.KindModelStream, Data: "partial"},
		{Kind: events.KindError, Err: errors.New("node agent: provider down")},
	}}
	svc := newService(t, runner, store)

	buf := &stream.Buffer{}
	result, err := svc.Handle(context.Background(), domain.ChatRequest{NewMessage: "question"}, buf)
	require.Error(t, err)
	assert.Equal(t, stream.KindError, result.Summary.Terminal)
	require.NotEmpty(t, result.ChatID, "a chat is created when none is given")

	stored, err := store.ListMessages(context.Background(), result.ChatID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.RoleUser, stored[0].Role)
}

func TestHandleLoadsStoredHistoryWhenRequestHasNone(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c, err := store.CreateChat(ctx, "u", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, domain.RoleUser, "earlier question")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, domain.RoleAssistant, "earlier answer")
	require.NoError(t, err)

	runner := &scriptedRunner{}
	svc := newService(t, runner, store)
	_, err = svc.Handle(ctx, domain.ChatRequest{ChatID: c.ID, NewMessage: "follow up", Mode: "deep_research"}, &stream.Buffer{})
	require.NoError(t, err)

	require.Len(t, runner.got.Messages, 3)
	assert.Equal(t, "earlier question", runner.got.Messages[0].Content)
	assert.Equal(t, "follow up", runner.got.Messages[2].Content)
	assert.Equal(t, domain.ModeDeepResearch, runner.got.Mode)
}

func TestPrepareValidation(t *testing.T) {
	svc := newService(t, &scriptedRunner{}, storage.NewMemoryStore())

	req := domain.ChatRequest{NewMessage: "   "}
	assert.ErrorIs(t, svc.Prepare(context.Background(), &req), chat.ErrEmptyMessage)

	req = domain.ChatRequest{ChatID: "missing", NewMessage: "hi"}
	assert.ErrorIs(t, svc.Prepare(context.Background(), &req), storage.ErrChatNotFound)
}

func TestNewServiceValidation(t *testing.T) {
	titles := chat.NewTitleGenerator(testutil.NewMockLLMClient(), 0, 0)
	_, err := chat.NewService(nil, storage.NewMemoryStore(), titles, nil)
	assert.Error(t, err)
	_, err = chat.NewService(&scriptedRunner{}, nil, titles, nil)
	assert.Error(t, err)
	_, err = chat.NewService(&scriptedRunner{}, storage.NewMemoryStore(), nil, nil)
	assert.Error(t, err)
}

func TestRetitle(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	c, err := store.CreateChat(ctx, "u", "")
	require.NoError(t, err)
	_, err = store.AppendMessage(ctx, c.ID, domain.RoleUser, "Tell me about llamas")
	require.NoError(t, err)

	svc := newService(t, &scriptedRunner{}, store)
	title, err := svc.Retitle(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Llamas", title)

	got, err := store.GetChat(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Llamas", got.Title)

	_, err = svc.Retitle(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrChatNotFound)
}
