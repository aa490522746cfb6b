package agent

import (
	"context"
	"fmt"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
)

// Model invokes the language model for a single round. With Streaming set,
// every text chunk is forwarded to the sink as a model_stream event named
// after the calling node.
type Model struct {
	Client    domain.LLMClient
	Options   domain.ChatOptions
	Streaming bool
}

// Invocation is the outcome of one model round
type Invocation struct {
	Response *domain.ChatResponse
	// Streamed reports whether the content already reached the sink as
	// model_stream events.
	Streamed bool
}

// Invoke calls the model once. tools may be nil.
func (m Model) Invoke(ctx context.Context, sink events.Sink, node string, messages []domain.Message, tools []domain.ToolDefinition) (*Invocation, error) {
	if m.Client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if sink == nil {
		sink = events.Discard
	}

	opts := m.Options
	opts.Tools = tools

	if !m.Streaming {
		resp, err := m.Client.Chat(ctx, messages, opts)
		if err != nil {
			return nil, err
		}
		return &Invocation{Response: resp}, nil
	}

	stream, err := m.Client.Stream(ctx, messages, opts)
	if err != nil {
		return nil, err
	}

	// Drain leftovers so the producer goroutine can exit
	defer func() {
		go func() {
			for range stream {
			}
		}()
	}()

	resp := &domain.ChatResponse{}
	var content []byte
	emitted := false
	for chunk := range stream {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Content != "" {
			content = append(content, chunk.Content...)
			if err := sink.Send(ctx, events.Event{
				Kind: events.KindModelStream,
				Name: node,
				Data: chunk.Content,
			}); err != nil {
				return nil, err
			}
			emitted = true
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}

	resp.Content = string(content)
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = "tool_use"
	} else {
		resp.FinishReason = "stop"
	}
	return &Invocation{Response: resp, Streamed: emitted}, nil
}
