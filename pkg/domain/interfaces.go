package domain

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrChatNotFound is returned by a ChatStore for an unknown chat id
var ErrChatNotFound = errors.New("chat not found")

// LLMClient defines the model invocation capability
type LLMClient interface {
	// Chat performs a chat completion
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResponse, error)

	// Stream performs a streaming chat completion. Text arrives incrementally,
	// tool calls arrive complete, and the last chunk has Done or Error set.
	Stream(ctx context.Context, messages []Message, opts ChatOptions) (<-chan ChatStreamResponse, error)
}

// Tool defines the interface for agent tools
type Tool interface {
	// Name returns the tool name
	Name() string

	// Description returns the tool description
	Description() string

	// Execute executes the tool with given arguments
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)

	// Schema returns the JSON schema of the tool arguments
	Schema() json.RawMessage
}

// CloneableTool is implemented by tools that carry per-instance state
type CloneableTool interface {
	Tool
	Clone() Tool
}

// ToolRegistry manages available tools
type ToolRegistry interface {
	// Register registers a new tool
	Register(tool Tool) error

	// Get retrieves a tool by name
	Get(name string) (Tool, error)

	// List returns all available tools sorted by name
	List() []Tool

	// Clone returns an independent registry with the same tools
	Clone() ToolRegistry
}

// ChatStore persists chats and their messages
type ChatStore interface {
	CreateChat(ctx context.Context, userID, title string) (*Chat, error)
	GetChat(ctx context.Context, chatID string) (*Chat, error)
	ListChats(ctx context.Context, userID string) ([]*Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	// DeleteChat removes a chat together with its messages
	DeleteChat(ctx context.Context, chatID string) error
	AppendMessage(ctx context.Context, chatID string, role Role, content string) (*StoredMessage, error)
	ListMessages(ctx context.Context, chatID string) ([]*StoredMessage, error)
	Close() error
}

// ChatOptions provides options for chat completions
type ChatOptions struct {
	Model       string           `json:"model,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	TopP        float64          `json:"top_p,omitempty"`
	TopK        int              `json:"top_k,omitempty"`
	Stop        []string         `json:"stop,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
}

// ToolDefinition describes a tool to the model
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finish_reason,omitempty"`
}

// Message converts the response into an assistant message
func (r *ChatResponse) Message() Message {
	return NewAssistantMessage(r.Content, r.ToolCalls...)
}

// ChatStreamResponse represents a streaming chat response chunk
type ChatStreamResponse struct {
	Content  string      `json:"content,omitempty"`
	ToolCall *ToolCall   `json:"tool_call,omitempty"`
	Usage    *TokenUsage `json:"usage,omitempty"`
	Done     bool        `json:"done"`
	Error    error       `json:"-"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DefinitionsFor builds model tool definitions for every tool in the registry
func DefinitionsFor(registry ToolRegistry) []ToolDefinition {
	if registry == nil {
		return nil
	}
	tools := registry.List()
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}
