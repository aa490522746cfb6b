package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ncolesummers/research-chat-agent/internal/testutil"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, ts ...domain.Tool) domain.ToolRegistry {
	t.Helper()
	r, err := tools.NewBasicRegistry(ts...)
	require.NoError(t, err)
	return r
}

func call(id, name string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Args: map[string]interface{}{"query": id}}
}

func TestLoopNoToolCalls(t *testing.T) {
	for _, streaming := range []bool{false, true} {
		t.Run(fmt.Sprintf("streaming=%v", streaming), func(t *testing.T) {
			llm := testutil.NewMockLLMClient(testutil.TextResponse("2 + 2 is 4"))
			loop := NewLoop(Model{Client: llm, Streaming: streaming}, nil, nil, nil, Config{})
			rec := &events.Recorder{}

			turn, err := loop.Run(testutil.NewTestContext(t), rec, "system", []domain.Message{domain.NewUserMessage("2+2?")})
			require.NoError(t, err)

			assert.Equal(t, StateDone, turn.State)
			assert.Equal(t, "2 + 2 is 4", turn.Final)
			assert.Equal(t, 1, turn.Rounds)
			assert.Equal(t, streaming, turn.Streamed)
			assert.Len(t, turn.Messages, 2)

			var streamed string
			for _, ev := range rec.OfKind(events.KindModelStream) {
				assert.Equal(t, "agent", ev.Name)
				streamed += ev.Data.(string)
			}
			if streaming {
				assert.Equal(t, "2 + 2 is 4", streamed)
			} else {
				assert.Empty(t, streamed)
			}
		})
	}
}

func TestLoopAppendsResultsInRequestOrder(t *testing.T) {
	search := &testutil.MockTool{
		ToolName: "tavily_search",
		ExecuteFunc: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			return "result for " + args["query"].(string), nil
		},
	}
	llm := testutil.NewMockLLMClient(
		testutil.ToolCallResponse("", call("c1", "tavily_search"), call("c2", "tavily_search"), call("c3", "tavily_search")),
		testutil.TextResponse("final answer"),
	)
	loop := NewLoop(Model{Client: llm}, newRegistry(t, search), nil, nil, Config{})

	turn, err := loop.Run(testutil.NewTestContext(t), nil, "", []domain.Message{domain.NewUserMessage("search please")})
	require.NoError(t, err)
	assert.Equal(t, "final answer", turn.Final)
	require.Equal(t, 2, llm.GetCallCount())

	// The second invocation sees the assistant request followed by its N results
	second := llm.CallMessages(1)
	var toolMsgs []domain.Message
	for _, m := range second {
		if m.Role == domain.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	require.Len(t, toolMsgs, 3)
	for i, id := range []string{"c1", "c2", "c3"} {
		assert.Equal(t, id, toolMsgs[i].ToolCallID)
		assert.Equal(t, "result for "+id, toolMsgs[i].Content)
	}
}

func TestLoopStepTransitions(t *testing.T) {
	llm := testutil.NewMockLLMClient(
		testutil.ToolCallResponse("", call("c1", "think")),
		testutil.TextResponse("done"),
	)
	think := &testutil.MockTool{ToolName: "think"}
	loop := NewLoop(Model{Client: llm}, newRegistry(t, think), nil, nil, Config{})
	ctx := testutil.NewTestContext(t)

	turn := NewTurn("", []domain.Message{domain.NewUserMessage("hi")})
	assert.Equal(t, StateAwaitingModel, turn.State)

	require.NoError(t, loop.Step(ctx, nil, turn))
	assert.Equal(t, StateAwaitingTools, turn.State)
	assert.Equal(t, 1, turn.Rounds)

	require.NoError(t, loop.Step(ctx, nil, turn))
	assert.Equal(t, StateAwaitingModel, turn.State)
	assert.Equal(t, 1, think.CallCount())

	require.NoError(t, loop.Step(ctx, nil, turn))
	assert.Equal(t, StateDone, turn.State)

	// Stepping a finished turn is a no-op
	require.NoError(t, loop.Step(ctx, nil, turn))
	assert.Equal(t, 2, llm.GetCallCount())
}

func TestLoopRoundCap(t *testing.T) {
	// An adversarial model that always asks for another tool call
	var n int
	llm := testutil.NewMockLLMClient()
	llm.ChatFunc = func(context.Context, []domain.Message, domain.ChatOptions) (*domain.ChatResponse, error) {
		n++
		resp := testutil.ToolCallResponse(fmt.Sprintf("still going %d", n), call(fmt.Sprintf("c%d", n), "think"))
		return &resp, nil
	}
	think := &testutil.MockTool{ToolName: "think"}
	loop := NewLoop(Model{Client: llm}, newRegistry(t, think), nil, nil, Config{})

	turn, err := loop.Run(testutil.NewTestContext(t), nil, "", []domain.Message{domain.NewUserMessage("loop forever")})
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRounds, llm.GetCallCount())
	assert.Equal(t, DefaultMaxRounds-1, think.CallCount())
	assert.True(t, turn.Degraded)
	assert.Equal(t, "still going 10", turn.Final)

	last, _ := turn.Last()
	assert.False(t, last.HasToolCalls())
}

func TestLoopPrunesSkippedCalls(t *testing.T) {
	llm := testutil.NewMockLLMClient(
		testutil.ToolCallResponse("", call("c1", "missing"), call("c2", "think")),
		testutil.TextResponse("ok"),
	)
	loop := NewLoop(Model{Client: llm}, newRegistry(t, &testutil.MockTool{ToolName: "think"}), nil, nil, Config{})

	turn, err := loop.Run(testutil.NewTestContext(t), nil, "", []domain.Message{domain.NewUserMessage("go")})
	require.NoError(t, err)
	assert.Equal(t, "ok", turn.Final)

	// Every remaining request is answered by exactly one result
	assistant := turn.Messages[1]
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "c2", assistant.ToolCalls[0].ID)
	assert.Equal(t, domain.RoleTool, turn.Messages[2].Role)
	assert.Equal(t, "c2", turn.Messages[2].ToolCallID)
	assert.Equal(t, domain.RoleAssistant, turn.Messages[3].Role)
}

func TestLoopToolFailureContinues(t *testing.T) {
	broken := &testutil.MockTool{
		ToolName: "tavily_search",
		ExecuteFunc: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("rate limited")
		},
	}
	llm := testutil.NewMockLLMClient(
		testutil.ToolCallResponse("", call("c1", "tavily_search")),
		testutil.TextResponse("answered without search"),
	)
	loop := NewLoop(Model{Client: llm}, newRegistry(t, broken), nil, nil, Config{})

	turn, err := loop.Run(testutil.NewTestContext(t), nil, "", []domain.Message{domain.NewUserMessage("q")})
	require.NoError(t, err)
	assert.Equal(t, "answered without search", turn.Final)
	assert.True(t, turn.Messages[2].IsError)
}

func TestLoopModelError(t *testing.T) {
	llm := testutil.NewMockLLMClient()
	llm.ShouldError = true
	llm.ErrorMessage = "provider overloaded"
	loop := NewLoop(Model{Client: llm}, nil, nil, nil, Config{})

	_, err := loop.Run(testutil.NewTestContext(t), nil, "", []domain.Message{domain.NewUserMessage("q")})
	require.Error(t, err)

	var loopErr *LoopError
	require.ErrorAs(t, err, &loopErr)
	assert.Equal(t, StateAwaitingModel, loopErr.State)
	assert.Equal(t, 1, loopErr.Round)
	assert.Contains(t, err.Error(), "provider overloaded")
}

func TestLoopPassesToolDefinitionsAndSystemPrompt(t *testing.T) {
	llm := testutil.NewMockLLMClient(testutil.TextResponse("hi"))
	loop := NewLoop(Model{Client: llm, Options: domain.ChatOptions{Model: "m"}}, newRegistry(t, tools.NewThinkTool()), nil, nil, Config{})

	_, err := loop.Run(testutil.NewTestContext(t), nil, "be brief", []domain.Message{domain.NewUserMessage("hello")})
	require.NoError(t, err)

	msgs := llm.CallMessages(0)
	require.NotEmpty(t, msgs)
	assert.Equal(t, domain.RoleSystem, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	require.Len(t, llm.LastOptions.Tools, 1)
	assert.Equal(t, "think", llm.LastOptions.Tools[0].Name)
	assert.Equal(t, "m", llm.LastOptions.Model)
}
