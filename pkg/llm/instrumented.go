package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedClient wraps an LLM client with tracing and metrics
type InstrumentedClient struct {
	client    domain.LLMClient
	provider  string
	model     string
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
}

// NewInstrumentedClient creates a new instrumented LLM client. Telemetry and
// metrics may be nil.
func NewInstrumentedClient(client domain.LLMClient, provider, model string, telemetry *observability.Telemetry, metrics *observability.Metrics) (*InstrumentedClient, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &InstrumentedClient{
		client:    client,
		provider:  provider,
		model:     model,
		telemetry: telemetry,
		metrics:   metrics,
	}, nil
}

func (c *InstrumentedClient) modelFor(opts domain.ChatOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

// Chat performs an instrumented chat completion
func (c *InstrumentedClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	model := c.modelFor(opts)
	start := time.Now()

	var response *domain.ChatResponse
	err := c.telemetry.InstrumentLLMCall(ctx, c.provider, model, func(ctx context.Context) (int, int, error) {
		var err error
		response, err = c.client.Chat(ctx, messages, opts)
		if err != nil {
			return 0, 0, err
		}
		return response.Usage.PromptTokens, response.Usage.CompletionTokens, nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.RecordLLMRequest(ctx, model,
		int64(response.Usage.PromptTokens),
		int64(response.Usage.CompletionTokens),
		time.Since(start))
	return response, nil
}

// Stream performs an instrumented streaming chat completion. The span stays
// open until the stream finishes.
func (c *InstrumentedClient) Stream(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (<-chan domain.ChatStreamResponse, error) {
	model := c.modelFor(opts)
	ctx, span := c.telemetry.StartSpan(ctx, "llm.stream",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.provider", c.provider),
			attribute.Int("llm.message_count", len(messages)),
			attribute.Int("llm.tool_count", len(opts.Tools)),
		),
	)
	start := time.Now()

	stream, err := c.client.Stream(ctx, messages, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}

	wrapped := make(chan domain.ChatStreamResponse)
	go func() {
		defer close(wrapped)
		defer span.End()

		completed := false
		for chunk := range stream {
			if chunk.Error != nil {
				span.RecordError(chunk.Error)
				span.SetStatus(codes.Error, chunk.Error.Error())
			}
			if chunk.Done && !completed {
				completed = true
				var usage domain.TokenUsage
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
				span.SetStatus(codes.Ok, "")
				span.SetAttributes(
					attribute.Int("llm.prompt_tokens", usage.PromptTokens),
					attribute.Int("llm.completion_tokens", usage.CompletionTokens),
					attribute.Int("llm.total_tokens", usage.PromptTokens+usage.CompletionTokens),
				)
				c.metrics.RecordLLMRequest(ctx, model,
					int64(usage.PromptTokens),
					int64(usage.CompletionTokens),
					time.Since(start))
			}

			select {
			case wrapped <- chunk:
			case <-ctx.Done():
				// Drain so the provider goroutine can exit
				for range stream {
				}
				return
			}
		}
	}()

	return wrapped, nil
}
