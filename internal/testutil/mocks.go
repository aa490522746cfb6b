package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// MockLLMClient is a scripted implementation of LLMClient for testing.
// Each call consumes the next scripted response; once the script runs out
// the last response repeats.
type MockLLMClient struct {
	mu           sync.Mutex
	Script       []domain.ChatResponse
	CallCount    int
	Calls        [][]domain.Message
	LastOptions  domain.ChatOptions
	ShouldError  bool
	ErrorMessage string
	// ChatFunc allows custom chat behavior for tests
	ChatFunc func(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error)
}

// NewMockLLMClient creates a mock client that answers with the given
// responses in order
func NewMockLLMClient(script ...domain.ChatResponse) *MockLLMClient {
	return &MockLLMClient{Script: script}
}

// TextResponse builds a plain assistant answer
func TextResponse(content string) domain.ChatResponse {
	return domain.ChatResponse{
		Content:      content,
		FinishReason: "stop",
		Usage:        domain.TokenUsage{PromptTokens: 50, CompletionTokens: 50, TotalTokens: 100},
	}
}

// ToolCallResponse builds an assistant turn requesting tool calls
func ToolCallResponse(content string, calls ...domain.ToolCall) domain.ChatResponse {
	return domain.ChatResponse{
		Content:      content,
		ToolCalls:    calls,
		FinishReason: "tool_use",
		Usage:        domain.TokenUsage{PromptTokens: 50, CompletionTokens: 10, TotalTokens: 60},
	}
}

func (m *MockLLMClient) next(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error) {
	copied := make([]domain.Message, len(messages))
	for i, msg := range messages {
		copied[i] = msg.Clone()
	}

	m.mu.Lock()
	m.CallCount++
	m.Calls = append(m.Calls, copied)
	m.LastOptions = options
	idx := m.CallCount - 1
	chatFunc := m.ChatFunc
	m.mu.Unlock()

	// ChatFunc runs without the lock so concurrent tests can block in it
	if chatFunc != nil {
		return chatFunc(ctx, messages, options)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldError {
		return nil, fmt.Errorf("%s", m.ErrorMessage)
	}
	if len(m.Script) == 0 {
		resp := TextResponse("Mock response")
		return &resp, nil
	}
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	resp := m.Script[idx]
	return &resp, nil
}

// Chat implements domain.LLMClient
func (m *MockLLMClient) Chat(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (*domain.ChatResponse, error) {
	return m.next(ctx, messages, options)
}

// Stream implements domain.LLMClient. Content is delivered word by word,
// followed by tool calls and a final usage chunk.
func (m *MockLLMClient) Stream(ctx context.Context, messages []domain.Message, options domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	resp, err := m.next(ctx, messages, options)
	if err != nil {
		return nil, err
	}

	ch := make(chan domain.ChatStreamResponse, 8)
	go func() {
		defer close(ch)
		for _, chunk := range SplitChunks(resp.Content) {
			select {
			case ch <- domain.ChatStreamResponse{Content: chunk}:
			case <-ctx.Done():
				return
			}
		}
		for i := range resp.ToolCalls {
			call := resp.ToolCalls[i]
			select {
			case ch <- domain.ChatStreamResponse{ToolCall: &call}:
			case <-ctx.Done():
				return
			}
		}
		usage := resp.Usage
		select {
		case ch <- domain.ChatStreamResponse{Usage: &usage, Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// SplitChunks splits text into chunks that concatenate back to the input
func SplitChunks(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetCallCount returns the number of model calls made
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

// CallMessages returns the messages passed to the i-th call
func (m *MockLLMClient) CallMessages(i int) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.Calls) {
		return nil
	}
	return m.Calls[i]
}

// MockTool is a mock implementation of Tool
type MockTool struct {
	ToolName        string
	ToolDescription string
	ToolSchema      json.RawMessage
	ExecuteFunc     func(context.Context, map[string]interface{}) (interface{}, error)

	mu    sync.Mutex
	calls []map[string]interface{}
}

// Name implements domain.Tool
func (t *MockTool) Name() string {
	return t.ToolName
}

// Description implements domain.Tool
func (t *MockTool) Description() string {
	return t.ToolDescription
}

// Execute implements domain.Tool
func (t *MockTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()

	if t.ExecuteFunc != nil {
		return t.ExecuteFunc(ctx, params)
	}
	return "mock result", nil
}

// Schema implements domain.Tool
func (t *MockTool) Schema() json.RawMessage {
	return t.ToolSchema
}

// CallCount returns how often Execute ran
func (t *MockTool) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// MemoryRegistry is a minimal ToolRegistry for tests
type MemoryRegistry struct {
	mu    sync.Mutex
	tools map[string]domain.Tool
	order []string
}

// NewMemoryRegistry creates a registry holding the given tools
func NewMemoryRegistry(tools ...domain.Tool) *MemoryRegistry {
	r := &MemoryRegistry{tools: make(map[string]domain.Tool)}
	for _, t := range tools {
		_ = r.Register(t)
	}
	return r
}

// Register implements domain.ToolRegistry
func (r *MemoryRegistry) Register(tool domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; !exists {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get implements domain.ToolRegistry
func (r *MemoryRegistry) Get(name string) (domain.Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tool, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool, nil
}

// List implements domain.ToolRegistry
func (r *MemoryRegistry) List() []domain.Tool {
	r.mu.Lock()
	defer r.mu.Unlock()
	tools := make([]domain.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Clone implements domain.ToolRegistry
func (r *MemoryRegistry) Clone() domain.ToolRegistry {
	return NewMemoryRegistry(r.List()...)
}
