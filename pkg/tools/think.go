package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// ThinkTool lets the model write down intermediate reasoning. Thoughts are
// echoed back and kept for the lifetime of the tool, so each research task
// gets its own instance through Clone.
type ThinkTool struct {
	mu       sync.Mutex
	thoughts []string
}

type thinkArgs struct {
	Thought string `json:"thought" jsonschema_description:"The reasoning step to record"`
}

// NewThinkTool creates an empty think tool
func NewThinkTool() *ThinkTool {
	return &ThinkTool{}
}

// Name returns the tool name
func (t *ThinkTool) Name() string {
	return "think"
}

// Description returns the tool description
func (t *ThinkTool) Description() string {
	return "Think through a problem step by step before answering. Use it to plan searches or check findings."
}

// Execute records the thought
func (t *ThinkTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	thought := strings.TrimSpace(stringArg(args, "thought"))
	if thought == "" {
		return nil, fmt.Errorf("thought is required")
	}

	t.mu.Lock()
	t.thoughts = append(t.thoughts, thought)
	n := len(t.thoughts)
	t.mu.Unlock()

	return fmt.Sprintf("Thought %d recorded: %s", n, thought), nil
}

// Thoughts returns the recorded thoughts in order
func (t *ThinkTool) Thoughts() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.thoughts...)
}

// Clone returns a fresh tool with no recorded thoughts
func (t *ThinkTool) Clone() domain.Tool {
	return NewThinkTool()
}

// Schema returns the tool's parameter schema
func (t *ThinkTool) Schema() json.RawMessage {
	return SchemaFor[thinkArgs]()
}
