package domain

import (
	"strings"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Mode selects the workflow graph used for a chat request
type Mode string

const (
	ModeSimple       Mode = "simple"
	ModeDeepResearch Mode = "deep_research"
)

// ParseMode maps a request mode onto a known Mode. Anything unrecognised
// runs as simple chat.
func ParseMode(s string) Mode {
	switch Mode(strings.TrimSpace(strings.ToLower(s))) {
	case ModeDeepResearch:
		return ModeDeepResearch
	default:
		return ModeSimple
	}
}

// TaskStatus represents the current state of a research task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Phase names the workflow node that is currently executing
type Phase string

const (
	PhaseAgent         Phase = "agent"
	PhaseTools         Phase = "tools"
	PhaseClarification Phase = "clarify"
	PhasePlanning      Phase = "plan"
	PhaseResearch      Phase = "parallel_research"
	PhaseReporting     Phase = "report"
	PhaseComplete      Phase = "complete"
)

// Message is one entry of a conversation history. Messages are passed by
// value and treated as immutable; helpers that change a message return a copy.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`

	// CacheBreakpoint hints the provider that the prefix ending here may be reused.
	CacheBreakpoint bool      `json:"cache_breakpoint,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
}

// NewUserMessage creates a user message
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates an assistant message
func NewAssistantMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls, Timestamp: time.Now()}
}

// NewSystemMessage creates a system prompt message
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// HasToolCalls reports whether the message requests tool executions
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Clone returns a copy that shares no slices with m
func (m Message) Clone() Message {
	c := m
	if m.ToolCalls != nil {
		c.ToolCalls = make([]ToolCall, len(m.ToolCalls))
		copy(c.ToolCalls, m.ToolCalls)
	}
	return c
}

// ToolCall is a model-issued request to invoke a named tool
type ToolCall struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"arguments"`
}

// ToolResult answers exactly one ToolCall
type ToolResult struct {
	CallID   string        `json:"call_id"`
	Name     string        `json:"name"`
	Output   string        `json:"output"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration,omitempty"`
}

// ToMessage converts the result into the tool message replayed to the model
func (r ToolResult) ToMessage() Message {
	return Message{
		Role:       RoleTool,
		Content:    r.Output,
		ToolCallID: r.CallID,
		Name:       r.Name,
		IsError:    !r.Success,
		Timestamp:  time.Now(),
	}
}

// ResearchTask is one independent sub-question of a deep research run.
// Findings stays nil until the task has been executed.
type ResearchTask struct {
	ID       string     `json:"id"`
	Question string     `json:"question"`
	Tools    []string   `json:"tools"`
	Findings *string    `json:"findings,omitempty"`
	Status   TaskStatus `json:"status"`
}

// Complete returns a copy of the task carrying its findings
func (t ResearchTask) Complete(findings string, status TaskStatus) ResearchTask {
	c := t
	c.Tools = append([]string(nil), t.Tools...)
	c.Findings = &findings
	c.Status = status
	return c
}

// FindingsText returns the findings or an empty string when absent
func (t ResearchTask) FindingsText() string {
	if t.Findings == nil {
		return ""
	}
	return *t.Findings
}

// ChatRequest is the inbound payload of the streaming chat endpoint
type ChatRequest struct {
	Messages   []Message `json:"messages"`
	NewMessage string    `json:"newMessage"`
	ChatID     string    `json:"chatId"`
	Mode       string    `json:"mode"`
}

// Chat is a persisted conversation
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// StoredMessage is a persisted chat message
type StoredMessage struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToMessage converts a stored message into a conversation message
func (m StoredMessage) ToMessage() Message {
	return Message{Role: m.Role, Content: m.Content, Timestamp: m.CreatedAt}
}
