package observability

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics records nothing.
type Metrics struct {
	meter metric.Meter

	// Counters
	chatRequestsTotal   metric.Int64Counter
	streamEventsTotal   metric.Int64Counter
	llmRequestsTotal    metric.Int64Counter
	llmTokensUsedTotal  metric.Int64Counter
	toolExecutionsTotal metric.Int64Counter
	toolsSkippedTotal   metric.Int64Counter
	researchTasksTotal  metric.Int64Counter
	planFallbacksTotal  metric.Int64Counter

	// Histograms
	chatDuration          metric.Float64Histogram
	llmRequestDuration    metric.Float64Histogram
	toolExecutionDuration metric.Float64Histogram
	researchTaskDuration  metric.Float64Histogram

	activeChatCount atomic.Int64
	activeTaskCount atomic.Int64
}

type counterSpec struct {
	target      *metric.Int64Counter
	name        string
	description string
}

type histogramSpec struct {
	target      *metric.Float64Histogram
	name        string
	description string
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}

	counters := []counterSpec{
		{&m.chatRequestsTotal, "chat_requests_total", "Total number of streamed chat requests"},
		{&m.streamEventsTotal, "stream_events_total", "Total number of protocol events written to clients"},
		{&m.llmRequestsTotal, "llm_requests_total", "Total number of model invocations"},
		{&m.llmTokensUsedTotal, "llm_tokens_used_total", "Total number of model tokens used"},
		{&m.toolExecutionsTotal, "tool_executions_total", "Total number of tool executions"},
		{&m.toolsSkippedTotal, "tool_calls_skipped_total", "Tool calls skipped because the tool is not registered"},
		{&m.researchTasksTotal, "research_tasks_total", "Total number of executed research tasks"},
		{&m.planFallbacksTotal, "research_plan_fallbacks_total", "Research plans replaced by the single-task fallback"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	histograms := []histogramSpec{
		{&m.chatDuration, "chat_duration_seconds", "Duration of streamed chat requests in seconds"},
		{&m.llmRequestDuration, "llm_request_duration_seconds", "Duration of model invocations in seconds"},
		{&m.toolExecutionDuration, "tool_execution_duration_seconds", "Duration of tool executions in seconds"},
		{&m.researchTaskDuration, "research_task_duration_seconds", "Duration of research tasks in seconds"},
	}
	for _, h := range histograms {
		histogram, err := meter.Float64Histogram(h.name,
			metric.WithDescription(h.description),
			metric.WithUnit("s"),
		)
		if err != nil {
			return nil, err
		}
		*h.target = histogram
	}

	_, err := meter.Int64ObservableGauge(
		"active_chats",
		metric.WithDescription("Number of chat requests currently streaming"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeChatCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"active_research_tasks",
		metric.WithDescription("Number of research tasks currently executing"),
		metric.WithUnit("1"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(m.activeTaskCount.Load())
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordChatStart records a new chat request
func (m *Metrics) RecordChatStart(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.chatRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	m.activeChatCount.Add(1)
}

// RecordChatComplete records the end of a chat request with its terminal event type
func (m *Metrics) RecordChatComplete(ctx context.Context, mode string, duration time.Duration, status string) {
	if m == nil {
		return
	}
	m.chatDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
	m.activeChatCount.Add(-1)
}

// RecordStreamEvent counts one protocol event written to a client
func (m *Metrics) RecordStreamEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.streamEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordLLMRequest records a model invocation
func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, promptTokens, completionTokens int64, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.llmRequestsTotal.Add(ctx, 1, attrs)
	m.llmTokensUsedTotal.Add(ctx, promptTokens+completionTokens,
		metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("type", "total"),
		),
	)
	m.llmRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolExecution records a tool execution
func (m *Metrics) RecordToolExecution(ctx context.Context, toolName string, duration time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.String("status", status),
	)
	m.toolExecutionsTotal.Add(ctx, 1, attrs)
	m.toolExecutionDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordToolSkipped records a tool call for a tool that is not registered
func (m *Metrics) RecordToolSkipped(ctx context.Context, toolName string) {
	if m == nil {
		return
	}
	m.toolsSkippedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
}

// RecordTaskStarted records the start of a research task
func (m *Metrics) RecordTaskStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeTaskCount.Add(1)
}

// RecordTaskComplete records completion of a research task
func (m *Metrics) RecordTaskComplete(ctx context.Context, duration time.Duration, status string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.researchTasksTotal.Add(ctx, 1, attrs)
	m.researchTaskDuration.Record(ctx, duration.Seconds(), attrs)
	m.activeTaskCount.Add(-1)
}

// RecordPlanFallback records a research plan that could not be parsed
func (m *Metrics) RecordPlanFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.planFallbacksTotal.Add(ctx, 1)
}

// ActiveChats returns the number of chat requests currently streaming
func (m *Metrics) ActiveChats() int64 {
	if m == nil {
		return 0
	}
	return m.activeChatCount.Load()
}

// ActiveTasks returns the number of research tasks currently executing
func (m *Metrics) ActiveTasks() int64 {
	if m == nil {
		return 0
	}
	return m.activeTaskCount.Load()
}
