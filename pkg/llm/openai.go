package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultOpenAIModel is used when no model is configured
const DefaultOpenAIModel = openai.ChatModelGPT4oMini

// OpenAIConfig configures the OpenAI client
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	// Timeout bounds each request attempt. Zero leaves the SDK default.
	Timeout time.Duration
}

// OpenAIClient implements domain.LLMClient with the Chat Completions API
type OpenAIClient struct {
	client openai.Client
	config OpenAIConfig
}

// NewOpenAIClient creates a client. The API key is required.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
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

	return &OpenAIClient{
		client: openai.NewClient(opts...),
		config: cfg,
	}, nil
}

// Chat performs a chat completion
func (c *OpenAIClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := completion.Choices[0]
	resp := &domain.ChatResponse{
		Content: choice.Message.Content,
		Usage: domain.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArgs(json.RawMessage(tc.Function.Arguments))
		if err != nil {
			return nil, fmt.Errorf("openai: tool %s: %w", tc.Function.Name, err)
		}
		resp.ToolCalls = append(resp.ToolCalls, domain.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	resp.FinishReason = finishReason(len(resp.ToolCalls) > 0)
	return resp, nil
}

// partialCall collects tool call deltas keyed by their stream index
type partialCall struct {
	id, name string
	args     strings.Builder
}

// Stream performs a streaming chat completion. Tool calls are sent once
// the model reports a finish reason, since arguments arrive in fragments.
func (c *OpenAIClient) Stream(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	out := make(chan domain.ChatStreamResponse)
	go func() {
		defer close(out)
		defer stream.Close()

		send := func(chunk domain.ChatStreamResponse) bool {
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		calls := map[int64]*partialCall{}
		var usage domain.TokenUsage
		finished := false

		for stream.Next() {
			ck := stream.Current()
			if ck.Usage.TotalTokens > 0 {
				usage = domain.TokenUsage{
					PromptTokens:     int(ck.Usage.PromptTokens),
					CompletionTokens: int(ck.Usage.CompletionTokens),
					TotalTokens:      int(ck.Usage.TotalTokens),
				}
			}
			for _, ch := range ck.Choices {
				if ch.Delta.Content != "" && !send(domain.ChatStreamResponse{Content: ch.Delta.Content}) {
					return
				}
				for _, tc := range ch.Delta.ToolCalls {
					pc, ok := calls[tc.Index]
					if !ok {
						pc = &partialCall{}
						calls[tc.Index] = pc
					}
					if tc.ID != "" {
						pc.id = tc.ID
					}
					if tc.Function.Name != "" {
						pc.name = tc.Function.Name
					}
					pc.args.WriteString(tc.Function.Arguments)
				}
				if ch.FinishReason != "" {
					finished = true
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(domain.ChatStreamResponse{Error: fmt.Errorf("openai: %w", err)})
			return
		}
		if !finished {
			send(domain.ChatStreamResponse{Error: fmt.Errorf("openai: stream ended before completion")})
			return
		}

		indexes := make([]int64, 0, len(calls))
		for idx := range calls {
			indexes = append(indexes, idx)
		}
		sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
		for _, idx := range indexes {
			pc := calls[idx]
			args, err := decodeArgs(json.RawMessage(pc.args.String()))
			if err != nil {
				send(domain.ChatStreamResponse{Error: fmt.Errorf("openai: tool %s: %w", pc.name, err)})
				return
			}
			if !send(domain.ChatStreamResponse{ToolCall: &domain.ToolCall{ID: pc.id, Name: pc.name, Args: args}}) {
				return
			}
		}
		send(domain.ChatStreamResponse{Usage: &usage, Done: true})
	}()
	return out, nil
}

func (c *OpenAIClient) buildParams(messages []domain.Message, opts domain.ChatOptions) (openai.ChatCompletionNewParams, error) {
	converted, err := convertOpenAIMessages(messages)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.config.Model),
		Messages:            converted,
		MaxCompletionTokens: openai.Int(int64(c.config.MaxTokens)),
	}
	if opts.Model != "" {
		params.Model = shared.ChatModel(opts.Model)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	temperature := c.config.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}
	if temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
	}

	for _, def := range opts.Tools {
		fn := shared.FunctionDefinitionParam{
			Name:        def.Name,
			Description: openai.String(def.Description),
		}
		if len(def.Parameters) > 0 {
			schema := map[string]interface{}{}
			if err := json.Unmarshal(def.Parameters, &schema); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
			}
			fn.Parameters = shared.FunctionParameters(schema)
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return params, nil
}

func convertOpenAIMessages(messages []domain.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case domain.RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case domain.RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case domain.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Args)
				if err != nil {
					return nil, fmt.Errorf("failed to encode arguments for %s: %w", call.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	return out, nil
}
