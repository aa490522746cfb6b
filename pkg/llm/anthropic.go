package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// DefaultAnthropicModel is used when no model is configured
const DefaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicConfig configures the Anthropic client
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	// Timeout bounds each request attempt. Zero leaves the SDK default.
	Timeout time.Duration
}

// AnthropicClient implements domain.LLMClient with the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	config AnthropicConfig
}

// NewAnthropicClient creates a client. The API key is required.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		config: cfg,
	}, nil
}

// Chat performs a chat completion
func (c *AnthropicClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp := &domain.ChatResponse{
		Usage: domain.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args, err := decodeArgs(tu.Input)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool %s: %w", tu.Name, err)
			}
			resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}
	resp.Content = text.String()
	resp.FinishReason = finishReason(len(resp.ToolCalls) > 0)
	return resp, nil
}

// Stream performs a streaming chat completion
func (c *AnthropicClient) Stream(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	out := make(chan domain.ChatStreamResponse)
	go func() {
		defer close(out)
		defer stream.Close()
		processAnthropicStream(ctx, stream, out)
	}()
	return out, nil
}

func processAnthropicStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- domain.ChatStreamResponse) {
	send := func(chunk domain.ChatStreamResponse) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var (
		current      *domain.ToolCall
		currentInput strings.Builder
		usage        domain.TokenUsage
	)

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			usage.PromptTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				current = &domain.ToolCall{ID: tu.ID, Name: tu.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" && !send(domain.ChatStreamResponse{Content: delta.Text}) {
					return
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current == nil {
				continue
			}
			args, err := decodeArgs(json.RawMessage(currentInput.String()))
			if err != nil {
				send(domain.ChatStreamResponse{Error: fmt.Errorf("anthropic: tool %s: %w", current.Name, err)})
				return
			}
			current.Args = args
			if !send(domain.ChatStreamResponse{ToolCall: current}) {
				return
			}
			current = nil

		case "message_delta":
			usage.CompletionTokens = int(event.AsMessageDelta().Usage.OutputTokens)

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			send(domain.ChatStreamResponse{Usage: &usage, Done: true})
			return
		}
	}

	err := stream.Err()
	if err == nil {
		err = fmt.Errorf("stream ended before message_stop")
	}
	send(domain.ChatStreamResponse{Error: fmt.Errorf("anthropic: %w", err)})
}

func (c *AnthropicClient) buildParams(messages []domain.Message, opts domain.ChatOptions) (anthropic.MessageNewParams, error) {
	system, systemCached, rest := splitSystem(messages)

	converted, err := convertAnthropicMessages(rest)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		Messages:  converted,
		MaxTokens: int64(c.config.MaxTokens),
	}
	if opts.Model != "" {
		params.Model = anthropic.Model(opts.Model)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = int64(opts.MaxTokens)
	}
	temperature := c.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if opts.TopK > 0 {
		params.TopK = anthropic.Int(int64(opts.TopK))
	}
	if len(opts.Stop) > 0 {
		params.StopSequences = opts.Stop
	}

	if system != "" {
		block := anthropic.TextBlockParam{Text: system}
		if systemCached {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{block}
	}

	for _, def := range opts.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return anthropic.MessageNewParams{}, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		tool.OfTool.Description = anthropic.String(def.Description)
		params.Tools = append(params.Tools, tool)
	}

	return params, nil
}

// convertAnthropicMessages maps the history onto user and assistant turns.
// Tool results travel as user turns, and consecutive turns of the same role
// are merged since the API requires alternation.
func convertAnthropicMessages(messages []domain.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		var (
			blocks []anthropic.ContentBlockParamUnion
			role   = anthropic.MessageParamRoleUser
		)

		switch msg.Role {
		case domain.RoleUser:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		case domain.RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				args := call.Args
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, args, call.Name))
			}
		case domain.RoleTool:
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}

		if len(blocks) == 0 {
			continue
		}
		if msg.CacheBreakpoint {
			markCached(&blocks[len(blocks)-1])
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	// A trailing assistant turn would be taken as a prefill to continue
	if n := len(out); n > 0 && out[n-1].Role == anthropic.MessageParamRoleAssistant {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	return out, nil
}

func markCached(block *anthropic.ContentBlockParamUnion) {
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	}
}

// decodeArgs turns a raw tool input into an argument map. Empty input
// yields an empty map.
func decodeArgs(raw interface{}) (map[string]interface{}, error) {
	args := map[string]interface{}{}
	switch v := raw.(type) {
	case json.RawMessage:
		if strings.TrimSpace(string(v)) == "" {
			return args, nil
		}
	case string:
		if strings.TrimSpace(v) == "" {
			return args, nil
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	return args, nil
}
