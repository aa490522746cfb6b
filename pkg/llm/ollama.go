package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
)

// DefaultOllamaURL is the address of a local Ollama server
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient implements the LLMClient interface for Ollama
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	options    OllamaOptions
}

// OllamaOptions configures the Ollama client
type OllamaOptions struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	TopK        int           `json:"top_k"`
	Timeout     time.Duration `json:"timeout"`
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Tools    []ollamaTool           `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Stream   bool                   `json:"stream"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	} `json:"function"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// NewOllamaClient creates a new Ollama client
func NewOllamaClient(baseURL, model string, options *OllamaOptions) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if options == nil {
		options = &OllamaOptions{
			Temperature: 0.5,
			MaxTokens:   4096,
			Timeout:     2 * time.Minute,
		}
	}

	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: options.Timeout,
		},
		options: *options,
	}
}

// Chat performs a chat completion
func (c *OllamaClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, opts, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	calls := convertOllamaToolCalls(ollamaResp.Message.ToolCalls)
	return &domain.ChatResponse{
		Content:   ollamaResp.Message.Content,
		ToolCalls: calls,
		Usage: domain.TokenUsage{
			PromptTokens:     ollamaResp.PromptEvalCount,
			CompletionTokens: ollamaResp.EvalCount,
			TotalTokens:      ollamaResp.PromptEvalCount + ollamaResp.EvalCount,
		},
		FinishReason: finishReason(len(calls) > 0),
	}, nil
}

// Stream performs a streaming chat completion. Ollama sends tool calls in
// a complete message, so they are forwarded as soon as they arrive.
func (c *OllamaClient) Stream(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	resp, err := c.post(ctx, c.buildRequest(messages, opts, true))
	if err != nil {
		return nil, err
	}

	stream := make(chan domain.ChatStreamResponse)
	go func() {
		defer close(stream)
		defer resp.Body.Close()

		send := func(chunk domain.ChatStreamResponse) bool {
			select {
			case stream <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk ollamaResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					send(domain.ChatStreamResponse{Error: fmt.Errorf("stream ended before completion")})
					return
				}
				send(domain.ChatStreamResponse{Error: fmt.Errorf("failed to decode chunk: %w", err)})
				return
			}

			if chunk.Message.Content != "" {
				if !send(domain.ChatStreamResponse{Content: chunk.Message.Content}) {
					return
				}
			}
			for _, call := range convertOllamaToolCalls(chunk.Message.ToolCalls) {
				call := call
				if !send(domain.ChatStreamResponse{ToolCall: &call}) {
					return
				}
			}

			if chunk.Done {
				send(domain.ChatStreamResponse{
					Usage: &domain.TokenUsage{
						PromptTokens:     chunk.PromptEvalCount,
						CompletionTokens: chunk.EvalCount,
						TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
					},
					Done: true,
				})
				return
			}
		}
	}()

	return stream, nil
}

func (c *OllamaClient) post(ctx context.Context, req ollamaRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &StatusError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return resp, nil
}

func (c *OllamaClient) buildRequest(messages []domain.Message, opts domain.ChatOptions, stream bool) ollamaRequest {
	req := ollamaRequest{
		Model:    c.model,
		Messages: convertOllamaMessages(messages),
		Options:  c.buildOptions(opts),
		Stream:   stream,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	for _, def := range opts.Tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return req
}

func convertOllamaMessages(messages []domain.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaMessage{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			var tc ollamaToolCall
			tc.Function.Name = call.Name
			tc.Function.Arguments = call.Args
			om.ToolCalls = append(om.ToolCalls, tc)
		}
		out = append(out, om)
	}
	return out
}

// convertOllamaToolCalls assigns ids, which Ollama does not provide
func convertOllamaToolCalls(calls []ollamaToolCall) []domain.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]domain.ToolCall, 0, len(calls))
	for _, tc := range calls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		out = append(out, domain.ToolCall{
			ID:   "call_" + uuid.NewString(),
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}

func (c *OllamaClient) buildOptions(opts domain.ChatOptions) map[string]interface{} {
	options := make(map[string]interface{})

	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	} else {
		options["temperature"] = c.options.Temperature
	}

	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	} else {
		options["num_predict"] = c.options.MaxTokens
	}

	if opts.TopP > 0 {
		options["top_p"] = opts.TopP
	} else if c.options.TopP > 0 {
		options["top_p"] = c.options.TopP
	}

	if opts.TopK > 0 {
		options["top_k"] = opts.TopK
	} else if c.options.TopK > 0 {
		options["top_k"] = c.options.TopK
	}

	if len(opts.Stop) > 0 {
		options["stop"] = opts.Stop
	}

	return options
}

// CheckHealth verifies the Ollama service is accessible
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
