package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolConversation() []domain.Message {
	system := domain.NewSystemMessage("You are helpful.")
	system.CacheBreakpoint = true
	return []domain.Message{
		system,
		domain.NewUserMessage("search two things"),
		domain.NewAssistantMessage("", domain.ToolCall{ID: "toolu_1", Name: "think", Args: map[string]interface{}{"thought": "a"}},
			domain.ToolCall{ID: "toolu_2", Name: "think", Args: map[string]interface{}{"thought": "b"}}),
		{Role: domain.RoleTool, ToolCallID: "toolu_1", Content: "first"},
		{Role: domain.RoleTool, ToolCallID: "toolu_2", Content: "second", IsError: true},
	}
}

func newAnthropic(t *testing.T, url string) *llm.AnthropicClient {
	t.Helper()
	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: "test-key", BaseURL: url, Model: "claude-test"})
	require.NoError(t, err)
	return client
}

func TestAnthropicClient_Chat(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [
				{"type": "text", "text": "Checking."},
				{"type": "tool_use", "id": "toolu_3", "name": "think", "input": {"thought": "c"}}
			],
			"stop_reason": "tool_use", "stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer server.Close()

	resp, err := newAnthropic(t, server.URL).Chat(context.Background(), toolConversation(),
		domain.ChatOptions{Tools: []domain.ToolDefinition{thinkDefinition()}})
	require.NoError(t, err)

	assert.Equal(t, "claude-test", received["model"])
	assert.Equal(t, float64(4096), received["max_tokens"])

	system := received["system"].([]interface{})
	require.Len(t, system, 1)
	systemBlock := system[0].(map[string]interface{})
	assert.Equal(t, "You are helpful.", systemBlock["text"])
	assert.Equal(t, "ephemeral", systemBlock["cache_control"].(map[string]interface{})["type"])

	// Both tool results travel in one user turn after the assistant turn
	messages := received["messages"].([]interface{})
	require.Len(t, messages, 3)
	roles := make([]string, len(messages))
	for i, m := range messages {
		roles[i] = m.(map[string]interface{})["role"].(string)
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
	results := messages[2].(map[string]interface{})["content"].([]interface{})
	require.Len(t, results, 2)
	second := results[1].(map[string]interface{})
	assert.Equal(t, "tool_result", second["type"])
	assert.Equal(t, "toolu_2", second["tool_use_id"])
	assert.Equal(t, true, second["is_error"])

	tools := received["tools"].([]interface{})
	require.Len(t, tools, 1)
	assert.Equal(t, "think", tools[0].(map[string]interface{})["name"])

	assert.Equal(t, "Checking.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, domain.ToolCall{ID: "toolu_3", Name: "think", Args: map[string]interface{}{"thought": "c"}}, resp.ToolCalls[0])
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
}

func TestAnthropicClient_TrailingAssistantGetsUserTurn(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_2","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":"plan"}],"stop_reason":"end_turn","stop_sequence":null,
			"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer server.Close()

	_, err := newAnthropic(t, server.URL).Chat(context.Background(), []domain.Message{
		domain.NewUserMessage("research llamas"),
		domain.NewAssistantMessage("Understood, researching llamas."),
	}, domain.ChatOptions{})
	require.NoError(t, err)

	messages := received["messages"].([]interface{})
	require.Len(t, messages, 3)
	assert.Equal(t, "user", messages[2].(map[string]interface{})["role"])
}

func writeSSE(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, data := range events {
		var head struct {
			Type string `json:"type"`
		}
		_ = json.Unmarshal([]byte(data), &head)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", head.Type, data)
	}
}

func TestAnthropicClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		writeSSE(w,
			`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"think","input":{}}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"thought\":"}}`,
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":" \"deep\"}"}}`,
			`{"type":"content_block_stop","index":1}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":15}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer server.Close()

	stream, err := newAnthropic(t, server.URL).Stream(context.Background(),
		[]domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 4)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	require.NotNil(t, chunks[2].ToolCall)
	assert.Equal(t, "toolu_1", chunks[2].ToolCall.ID)
	assert.Equal(t, "deep", chunks[2].ToolCall.Args["thought"])
	assert.True(t, chunks[3].Done)
	assert.Equal(t, domain.TokenUsage{PromptTokens: 10, CompletionTokens: 15, TotalTokens: 25}, *chunks[3].Usage)
}

func TestAnthropicClient_StreamToolWithoutArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"type":"message_start","message":{"id":"msg_2","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}`,
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_7","name":"think","input":{}}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":""}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer server.Close()

	stream, err := newAnthropic(t, server.URL).Stream(context.Background(),
		[]domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 2)
	require.NoError(t, chunks[0].Error)
	require.NotNil(t, chunks[0].ToolCall)
	assert.Equal(t, "toolu_7", chunks[0].ToolCall.ID)
	assert.Empty(t, chunks[0].ToolCall.Args)
	assert.NotNil(t, chunks[0].ToolCall.Args)
	assert.True(t, chunks[1].Done)
}

func TestAnthropicClient_BadRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer server.Close()

	_, err := newAnthropic(t, server.URL).Chat(context.Background(),
		[]domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewAnthropicClientRequiresKey(t *testing.T) {
	_, err := llm.NewAnthropicClient(llm.AnthropicConfig{})
	assert.Error(t, err)
}
