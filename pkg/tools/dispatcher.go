package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
)

// Dispatcher resolves tool calls against a registry and executes them.
// Tool failures never escape: they become failed ToolResults.
type Dispatcher struct {
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewDispatcher creates a dispatcher. telemetry and metrics may be nil.
func NewDispatcher(telemetry *observability.Telemetry, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		telemetry: telemetry,
		metrics:   metrics,
		logger:    observability.NewStructuredLogger("tool_dispatcher"),
	}
}

// Execute runs one tool call. A call naming an unregistered tool is skipped:
// no events are emitted, no result is produced, and the returned error
// matches ErrToolNotFound.
func (d *Dispatcher) Execute(ctx context.Context, sink events.Sink, registry domain.ToolRegistry, call domain.ToolCall) (*domain.ToolResult, error) {
	if sink == nil {
		sink = events.Discard
	}

	tool, err := registry.Get(call.Name)
	if err != nil {
		if !errors.Is(err, ErrToolNotFound) {
			err = fmt.Errorf("%w: %v", ErrToolNotFound, err)
		}
		d.logger.Warn(ctx, "Skipping call to unregistered tool", map[string]interface{}{
			"tool":    call.Name,
			"call_id": call.ID,
		})
		d.metrics.RecordToolSkipped(ctx, call.Name)
		return nil, err
	}

	if err := sink.Send(ctx, events.Event{
		Kind: events.KindToolStart,
		Name: call.Name,
		Data: events.ToolStartData{Tool: call.Name, Input: call.Args},
	}); err != nil {
		return nil, err
	}

	start := time.Now()
	var output interface{}
	execErr := d.telemetry.InstrumentToolExecution(ctx, call.Name, func(ctx context.Context) error {
		if err := ValidateArgs(call.Name, tool.Schema(), call.Args); err != nil {
			return err
		}
		var runErr error
		output, runErr = safeExecute(ctx, tool, call.Args)
		return runErr
	})

	result := &domain.ToolResult{
		CallID:   call.ID,
		Name:     call.Name,
		Success:  execErr == nil,
		Duration: time.Since(start),
	}
	if execErr != nil {
		result.Output = fmt.Sprintf("Error: %v", execErr)
		d.logger.Warn(ctx, "Tool execution failed", map[string]interface{}{
			"tool":    call.Name,
			"call_id": call.ID,
			"error":   execErr.Error(),
		})
	} else {
		result.Output = FormatOutput(output)
	}
	d.metrics.RecordToolExecution(ctx, call.Name, result.Duration, result.Success)

	if err := sink.Send(ctx, events.Event{
		Kind: events.KindToolEnd,
		Name: call.Name,
		Data: events.ToolEndData{Tool: call.Name, Output: result.Output, Success: result.Success},
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// ExecuteAll dispatches calls one after another in request order. Results
// follow the order of the dispatched calls; skipped calls are returned
// separately.
func (d *Dispatcher) ExecuteAll(ctx context.Context, sink events.Sink, registry domain.ToolRegistry, calls []domain.ToolCall) ([]domain.ToolResult, []domain.ToolCall, error) {
	results := make([]domain.ToolResult, 0, len(calls))
	var skipped []domain.ToolCall

	for _, call := range calls {
		result, err := d.Execute(ctx, sink, registry, call)
		if err != nil {
			if errors.Is(err, ErrToolNotFound) {
				skipped = append(skipped, call)
				continue
			}
			return nil, nil, err
		}
		results = append(results, *result)
	}

	return results, skipped, nil
}

func safeExecute(ctx context.Context, tool domain.Tool, args map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", tool.Name(), r)
		}
	}()
	return tool.Execute(ctx, args)
}

// FormatOutput renders a tool output as the text replayed to the model
func FormatOutput(v interface{}) string {
	switch out := v.(type) {
	case nil:
		return ""
	case string:
		return out
	case []byte:
		return string(out)
	case fmt.Stringer:
		return out.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
