package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, stream <-chan domain.ChatStreamResponse) []domain.ChatStreamResponse {
	t.Helper()
	var chunks []domain.ChatStreamResponse
	for chunk := range stream {
		chunks = append(chunks, chunk)
	}
	return chunks
}

func thinkDefinition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name:        "think",
		Description: "Record a thought",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`),
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"message": {"role": "assistant", "content": "Let me think.",
				"tool_calls": [{"function": {"name": "think", "arguments": {"thought": "plan"}}}]},
			"done": true,
			"prompt_eval_count": 30,
			"eval_count": 50
		}`)
	}))
	defer server.Close()

	client := llm.NewOllamaClient(server.URL, "test-model", nil)
	resp, err := client.Chat(context.Background(), []domain.Message{
		domain.NewSystemMessage("be brief"),
		domain.NewUserMessage("hello"),
	}, domain.ChatOptions{MaxTokens: 2000, Tools: []domain.ToolDefinition{thinkDefinition()}})
	require.NoError(t, err)

	assert.Equal(t, "test-model", received["model"])
	assert.Equal(t, false, received["stream"])
	options := received["options"].(map[string]interface{})
	assert.Equal(t, float64(2000), options["num_predict"])
	assert.Equal(t, 0.5, options["temperature"])
	tools := received["tools"].([]interface{})
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]interface{})["function"].(map[string]interface{})
	assert.Equal(t, "think", fn["name"])

	assert.Equal(t, "Let me think.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "think", resp.ToolCalls[0].Name)
	assert.Equal(t, "plan", resp.ToolCalls[0].Args["thought"])
	assert.Contains(t, resp.ToolCalls[0].ID, "call_")
	assert.Equal(t, "tool_use", resp.FinishReason)
	assert.Equal(t, 30, resp.Usage.PromptTokens)
	assert.Equal(t, 50, resp.Usage.CompletionTokens)
	assert.Equal(t, 80, resp.Usage.TotalTokens)
}

func TestOllamaClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		lines := []string{
			`{"message":{"role":"assistant","content":"Hello"},"done":false}`,
			`{"message":{"role":"assistant","content":" world"},"done":false}`,
			`{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"think","arguments":{"thought":"x"}}}]},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":7,"eval_count":3}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	client := llm.NewOllamaClient(server.URL, "test-model", nil)
	stream, err := client.Stream(context.Background(), []domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 4)
	assert.Equal(t, "Hello", chunks[0].Content)
	assert.Equal(t, " world", chunks[1].Content)
	require.NotNil(t, chunks[2].ToolCall)
	assert.Equal(t, "think", chunks[2].ToolCall.Name)
	assert.True(t, chunks[3].Done)
	require.NotNil(t, chunks[3].Usage)
	assert.Equal(t, 10, chunks[3].Usage.TotalTokens)
}

func TestOllamaClient_StreamEndsEarly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
	}))
	defer server.Close()

	client := llm.NewOllamaClient(server.URL, "test-model", nil)
	stream, err := client.Stream(context.Background(), []domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})
	require.NoError(t, err)

	chunks := collect(t, stream)
	require.Len(t, chunks, 2)
	assert.Equal(t, "partial", chunks[0].Content)
	assert.Error(t, chunks[1].Error)
	assert.False(t, chunks[1].Done)
}

func TestOllamaClient_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := llm.NewOllamaClient(server.URL, "missing", nil)
	_, err := client.Chat(context.Background(), []domain.Message{domain.NewUserMessage("hi")}, domain.ChatOptions{})

	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, llm.ProviderOllama, statusErr.Provider)
	assert.Contains(t, statusErr.Body, "model not found")
}

func TestOllamaClient_CheckHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer healthy.Close()
	assert.NoError(t, llm.NewOllamaClient(healthy.URL, "m", nil).CheckHealth(context.Background()))

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()
	assert.Error(t, llm.NewOllamaClient(unhealthy.URL, "m", nil).CheckHealth(context.Background()))
}
