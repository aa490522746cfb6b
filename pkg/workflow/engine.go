package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
)

// DefaultEventBuffer is the channel size used by Stream
const DefaultEventBuffer = 64

// EngineConfig wires an Engine
type EngineConfig struct {
	Simple *CompiledGraph
	Deep   *CompiledGraph
	// SystemPrompt frames the simple chat agent.
	SystemPrompt string
	// Checkpointer receives the final state of every run. Optional.
	Checkpointer state.Checkpointer
	EventBuffer  int
	Telemetry    *observability.Telemetry
	Metrics      *observability.Metrics
}

// RunRequest is one execution of a graph over a conversation
type RunRequest struct {
	ChatID   string
	Mode     domain.Mode
	Messages []domain.Message
}

// Engine selects the graph for a mode and executes it
type Engine struct {
	config EngineConfig
	logger *observability.StructuredLogger
}

// NewEngine creates an engine. Both graphs are required.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Simple == nil || cfg.Deep == nil {
		return nil, fmt.Errorf("simple and deep research graphs are required")
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = ChatSystemPrompt
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	return &Engine{
		config: cfg,
		logger: observability.NewStructuredLogger("workflow_engine"),
	}, nil
}

// Graph returns the compiled graph for mode
func (e *Engine) Graph(mode domain.Mode) *CompiledGraph {
	if mode == domain.ModeDeepResearch {
		return e.config.Deep
	}
	return e.config.Simple
}

// Run executes the graph for req and sends raw events to sink. The final
// state is checkpointed whether or not the run succeeded.
func (e *Engine) Run(ctx context.Context, req RunRequest, sink events.Sink) (*state.WorkflowState, error) {
	mode := domain.ParseMode(string(req.Mode))
	graph := e.Graph(mode)
	st := state.NewWorkflowState(req.ChatID, mode, e.config.SystemPrompt, req.Messages)

	ctx, span := e.config.Telemetry.StartChatRequest(ctx, req.ChatID, string(mode), st.Question())
	defer span.End()

	start := time.Now()
	e.config.Metrics.RecordChatStart(ctx, string(mode))

	err := graph.Run(ctx, st, sink)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		e.logger.Error(ctx, "Graph run failed", err, map[string]interface{}{
			"chat_id": req.ChatID,
			"graph":   graph.Name(),
			"phase":   string(st.GetPhase()),
		})
	}

	e.config.Metrics.RecordChatComplete(ctx, string(mode), time.Since(start), status)

	e.checkpoint(ctx, st)
	return st, err
}

// Stream runs the request on its own goroutine and returns the raw event
// channel. Every event carries a fresh run id. A failed run ends with one
// error event; the channel is closed when the run is over.
func (e *Engine) Stream(ctx context.Context, req RunRequest) <-chan events.Event {
	ch := events.NewChannelSink(e.config.EventBuffer)
	runID := uuid.NewString()
	sink := events.WithRunID(ch, runID)

	go func() {
		defer ch.Close()

		err := e.runRecovered(ctx, req, sink)
		if err != nil {
			// A sink error here means the consumer is gone
			_ = sink.Send(ctx, events.Event{
				Kind: events.KindError,
				Name: string(req.Mode),
				Root: true,
				Err:  err,
			})
		}
	}()

	return ch.Events()
}

func (e *Engine) runRecovered(ctx context.Context, req RunRequest, sink events.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow panic: %v", r)
			e.logger.Error(ctx, "Recovered panic in workflow", err, map[string]interface{}{
				"chat_id": req.ChatID,
			})
		}
	}()
	_, err = e.Run(ctx, req, sink)
	return err
}

func (e *Engine) checkpoint(ctx context.Context, st *state.WorkflowState) {
	if e.config.Checkpointer == nil || st.ChatID == "" {
		return
	}
	if err := e.config.Checkpointer.Save(context.WithoutCancel(ctx), st); err != nil {
		e.logger.Warn(ctx, "Failed to save checkpoint", map[string]interface{}{
			"chat_id": st.ChatID,
			"error":   err.Error(),
		})
	}
}
