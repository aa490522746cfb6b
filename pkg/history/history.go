// Package history bounds and annotates the conversation history that is
// replayed to the model before every call.
package history

import (
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// DefaultMaxMessages is the number of most recent messages kept by Trim
const DefaultMaxMessages = 10

// Trimmer keeps the tail of a conversation
type Trimmer struct {
	MaxMessages int
}

// NewTrimmer creates a trimmer. Non-positive limits use DefaultMaxMessages.
func NewTrimmer(maxMessages int) *Trimmer {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Trimmer{MaxMessages: maxMessages}
}

// Trim returns at most MaxMessages of the most recent messages, starting at
// a user message. When the window holds no user message the result starts
// at the latest user message of the whole history instead, so the replayed
// conversation never opens with an assistant or tool message. A history
// without any user message trims to nil. System messages are dropped; the
// caller prepends its own prompt.
func (t *Trimmer) Trim(messages []domain.Message) []domain.Message {
	conversation := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != domain.RoleSystem {
			conversation = append(conversation, m)
		}
	}

	limit := t.MaxMessages
	if limit <= 0 {
		limit = DefaultMaxMessages
	}

	start := len(conversation) - limit
	if start < 0 {
		start = 0
	}

	first := -1
	for i := start; i < len(conversation); i++ {
		if conversation[i].Role == domain.RoleUser {
			first = i
			break
		}
	}
	if first == -1 {
		for i := start - 1; i >= 0; i-- {
			if conversation[i].Role == domain.RoleUser {
				first = i
				break
			}
		}
	}
	if first == -1 {
		return nil
	}

	out := make([]domain.Message, 0, len(conversation)-first)
	for _, m := range conversation[first:] {
		out = append(out, m.Clone())
	}
	return out
}

// AnnotateCacheBreakpoints returns a copy of messages in which only the final
// message and the second most recent user message carry a cache breakpoint.
func AnnotateCacheBreakpoints(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, m := range messages {
		out[i] = m.Clone()
		out[i].CacheBreakpoint = false
	}
	if len(out) == 0 {
		return out
	}

	out[len(out)-1].CacheBreakpoint = true

	users := 0
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role != domain.RoleUser {
			continue
		}
		users++
		if users == 2 {
			out[i].CacheBreakpoint = true
			break
		}
	}
	return out
}

// Prepare trims and annotates history and prepends a cache-marked system
// prompt. An empty prompt is omitted.
func (t *Trimmer) Prepare(systemPrompt string, messages []domain.Message) []domain.Message {
	annotated := AnnotateCacheBreakpoints(t.Trim(messages))
	if systemPrompt == "" {
		return annotated
	}
	system := domain.NewSystemMessage(systemPrompt)
	system.CacheBreakpoint = true
	return append([]domain.Message{system}, annotated...)
}
