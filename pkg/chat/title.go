package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
)

// Title generation limits
const (
	DefaultTitle       = "New Chat"
	titleMessageLimit  = 6
	titleContentLimit  = 200
	titleLengthLimit   = 50
	defaultTitleTemp   = 0.3
	defaultTitleTokens = 50
)

const (
	titleSystemPrompt = "Generate a short, descriptive title of at most six words for this conversation. Reply with the title only."
	quoteChars        = `"'` + "`“”‘’"
)

// TitleGenerator names conversations with a single model call
type TitleGenerator struct {
	client      domain.LLMClient
	temperature float64
	maxTokens   int
	logger      *observability.StructuredLogger
}

// NewTitleGenerator creates a generator. Zero temperature or max tokens
// select the defaults.
func NewTitleGenerator(client domain.LLMClient, temperature float64, maxTokens int) *TitleGenerator {
	if temperature <= 0 {
		temperature = defaultTitleTemp
	}
	if maxTokens <= 0 {
		maxTokens = defaultTitleTokens
	}
	return &TitleGenerator{
		client:      client,
		temperature: temperature,
		maxTokens:   maxTokens,
		logger:      observability.NewStructuredLogger("chat_title"),
	}
}

// Generate returns a title for messages. It never fails: model errors and
// empty answers yield DefaultTitle.
func (g *TitleGenerator) Generate(ctx context.Context, messages []domain.Message) string {
	transcript := titleTranscript(messages)
	if transcript == "" {
		return DefaultTitle
	}

	resp, err := g.client.Chat(ctx, []domain.Message{
		domain.NewSystemMessage(titleSystemPrompt),
		domain.NewUserMessage(transcript),
	}, domain.ChatOptions{Temperature: g.temperature, MaxTokens: g.maxTokens})
	if err != nil {
		g.logger.Warn(ctx, "Title generation failed", map[string]interface{}{"error": err.Error()})
		return DefaultTitle
	}
	return NormalizeTitle(resp.Content)
}

func titleTranscript(messages []domain.Message) string {
	var b strings.Builder
	n := 0
	for _, msg := range messages {
		if msg.Role != domain.RoleUser && msg.Role != domain.RoleAssistant {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, truncate(content, titleContentLimit))
		n++
		if n == titleMessageLimit {
			break
		}
	}
	return b.String()
}

// NormalizeTitle trims whitespace and surrounding quotes and caps the length
func NormalizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.TrimSpace(strings.Trim(title, quoteChars))
	title = truncate(title, titleLengthLimit)
	if title == "" {
		return DefaultTitle
	}
	return title
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
