package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestTask creates a pending research task
func NewTestTask(id, question string) domain.ResearchTask {
	return domain.ResearchTask{
		ID:       id,
		Question: question,
		Tools:    []string{"tavily_search", "wikipedia"},
		Status:   domain.TaskStatusPending,
	}
}

// NewTestConversation builds an alternating user/assistant history ending
// with a user message
func NewTestConversation(turns int) []domain.Message {
	var msgs []domain.Message
	for i := 0; i < turns; i++ {
		msgs = append(msgs, domain.NewUserMessage("question "+string(rune('a'+i%26))))
		if i < turns-1 {
			msgs = append(msgs, domain.NewAssistantMessage("answer "+string(rune('a'+i%26))))
		}
	}
	return msgs
}

// SetupTestTelemetry creates test telemetry with span recorder and metric reader
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tracerProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
	)
	otel.SetTracerProvider(tracerProvider)

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metricReader),
	)
	otel.SetMeterProvider(meterProvider)

	telemetry, _ := observability.NewTelemetry(&observability.TelemetryConfig{
		ServiceName:        "test-service",
		ServiceVersion:     "test",
		Environment:        "test",
		EnableTracing:      true,
		EnableMetrics:      true,
		SamplingRate:       1.0,
		UseGlobalProviders: true,
	})
	return telemetry
}

// SetupTestMetrics returns metrics backed by a manual reader
func SetupTestMetrics(t *testing.T) (*observability.Metrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	m, err := observability.NewMetrics(provider.Meter("test"))
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return m, reader
}

// CounterValue sums the data points of an int64 counter collected by reader
func CounterValue(t *testing.T, reader metric.Reader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
