// Package llm provides model clients for Anthropic, OpenAI and Ollama
// behind domain.LLMClient, plus decorators for telemetry and failure
// isolation.
package llm

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// Supported providers
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// StatusError is returned when a provider answers with a non-success status
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func finishReason(toolUse bool) string {
	if toolUse {
		return "tool_use"
	}
	return "stop"
}

// splitSystem separates system prompts from the conversation. Providers
// that take the system prompt out of band use the joined text.
func splitSystem(messages []domain.Message) (system string, cached bool, rest []domain.Message) {
	var parts []string
	rest = make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			parts = append(parts, m.Content)
			cached = cached || m.CacheBreakpoint
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), cached, rest
}
