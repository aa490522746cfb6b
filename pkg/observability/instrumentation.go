package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentWorkflowNode wraps a workflow node with a span
func (t *Telemetry) InstrumentWorkflowNode(ctx context.Context, nodeName string, phase string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("workflow.node.%s", nodeName),
		trace.WithAttributes(
			attribute.String("node.name", nodeName),
			attribute.String("phase", phase),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	finishSpan(span, err, attribute.Float64("duration.seconds", time.Since(startTime).Seconds()))

	return err
}

// InstrumentLLMCall wraps a model invocation with a span carrying token usage
func (t *Telemetry) InstrumentLLMCall(ctx context.Context, provider, model string, fn func(context.Context) (promptTokens, completionTokens int, err error)) error {
	ctx, span := t.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(
			attribute.String("llm.model", model),
			attribute.String("llm.provider", provider),
		),
	)
	defer span.End()

	startTime := time.Now()
	promptTokens, completionTokens, err := fn(ctx)

	attrs := []attribute.KeyValue{attribute.Float64("duration.seconds", time.Since(startTime).Seconds())}
	if err == nil {
		attrs = append(attrs,
			attribute.Int("llm.prompt_tokens", promptTokens),
			attribute.Int("llm.completion_tokens", completionTokens),
			attribute.Int("llm.total_tokens", promptTokens+completionTokens),
		)
	}
	finishSpan(span, err, attrs...)

	return err
}

// InstrumentToolExecution wraps a tool execution with a span
func (t *Telemetry) InstrumentToolExecution(ctx context.Context, toolName string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("tool.%s", toolName),
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}
	finishSpan(span, err,
		attribute.String("tool.status", status),
		attribute.Float64("tool.duration_seconds", time.Since(startTime).Seconds()),
	)

	return err
}

// StartChatRequest starts the root span of one streamed chat request
func (t *Telemetry) StartChatRequest(ctx context.Context, chatID, mode, message string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "chat.request",
		trace.WithAttributes(
			attribute.String("chat.id", chatID),
			attribute.String("chat.mode", mode),
			attribute.Int("message.length", len(message)),
		),
	)
}

func finishSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attrs...)
}
