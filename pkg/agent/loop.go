// Package agent implements the tool-calling loop as an explicit state
// machine. One model round and one tool round are separate steps so the
// workflow graph can drive them as nodes.
package agent

import (
	"context"
	"fmt"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/history"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/tools"
)

// DefaultMaxRounds caps model invocations per turn
const DefaultMaxRounds = 10

// State is the position of a turn in the loop
type State string

const (
	StateAwaitingModel State = "awaiting_model"
	StateAwaitingTools State = "awaiting_tools"
	StateDone          State = "done"
)

// Turn is the mutable record of one run of the loop
type Turn struct {
	System   string
	Messages []domain.Message
	State    State
	// Rounds counts model invocations so far.
	Rounds int
	// Final holds the answer once State is StateDone.
	Final string
	// Degraded is set when the round cap ended the turn.
	Degraded bool
	// Streamed reports whether the latest model output was token streamed.
	Streamed bool
}

// NewTurn starts a turn awaiting the model
func NewTurn(system string, messages []domain.Message) *Turn {
	msgs := make([]domain.Message, len(messages))
	for i, m := range messages {
		msgs[i] = m.Clone()
	}
	return &Turn{System: system, Messages: msgs, State: StateAwaitingModel}
}

// Last returns the latest message, or false on an empty history
func (t *Turn) Last() (domain.Message, bool) {
	if len(t.Messages) == 0 {
		return domain.Message{}, false
	}
	return t.Messages[len(t.Messages)-1], true
}

// LoopError reports a failure that ends the turn
type LoopError struct {
	State State
	Round int
	Cause error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop failed in %s (round %d): %v", e.State, e.Round, e.Cause)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}

// Config holds loop settings
type Config struct {
	MaxRounds int
	// Node names the model_stream events emitted by this loop.
	Node string
}

// Loop drives a Turn through model and tool rounds
type Loop struct {
	model      Model
	registry   domain.ToolRegistry
	dispatcher *tools.Dispatcher
	trimmer    *history.Trimmer
	config     Config
	logger     *observability.StructuredLogger
}

// NewLoop creates a loop. registry may be nil for a loop without tools.
func NewLoop(model Model, registry domain.ToolRegistry, dispatcher *tools.Dispatcher, trimmer *history.Trimmer, cfg Config) *Loop {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.Node == "" {
		cfg.Node = "agent"
	}
	if dispatcher == nil {
		dispatcher = tools.NewDispatcher(nil, nil)
	}
	if trimmer == nil {
		trimmer = history.NewTrimmer(history.DefaultMaxMessages)
	}
	return &Loop{
		model:      model,
		registry:   registry,
		dispatcher: dispatcher,
		trimmer:    trimmer,
		config:     cfg,
		logger:     observability.NewStructuredLogger("agent_loop"),
	}
}

// WithRegistry returns a copy of the loop bound to another registry
func (l *Loop) WithRegistry(registry domain.ToolRegistry) *Loop {
	clone := *l
	clone.registry = registry
	return &clone
}

// WithNode returns a copy of the loop that names its events node
func (l *Loop) WithNode(node string) *Loop {
	clone := *l
	clone.config.Node = node
	return &clone
}

// WithStreaming returns a copy of the loop with token streaming toggled
func (l *Loop) WithStreaming(streaming bool) *Loop {
	clone := *l
	clone.model.Streaming = streaming
	return &clone
}

// MaxRounds returns the configured round cap
func (l *Loop) MaxRounds() int {
	return l.config.MaxRounds
}

// Run steps the turn until it is done
func (l *Loop) Run(ctx context.Context, sink events.Sink, system string, messages []domain.Message) (*Turn, error) {
	turn := NewTurn(system, messages)
	for turn.State != StateDone {
		if err := l.Step(ctx, sink, turn); err != nil {
			return turn, err
		}
	}
	return turn, nil
}

// Step performs exactly one transition
func (l *Loop) Step(ctx context.Context, sink events.Sink, turn *Turn) error {
	switch turn.State {
	case StateAwaitingModel:
		return l.modelStep(ctx, sink, turn)
	case StateAwaitingTools:
		return l.toolStep(ctx, sink, turn)
	case StateDone:
		return nil
	default:
		return &LoopError{State: turn.State, Round: turn.Rounds, Cause: fmt.Errorf("unknown state %q", turn.State)}
	}
}

func (l *Loop) modelStep(ctx context.Context, sink events.Sink, turn *Turn) error {
	prepared := l.trimmer.Prepare(turn.System, turn.Messages)

	inv, err := l.model.Invoke(ctx, sink, l.config.Node, prepared, domain.DefinitionsFor(l.registry))
	if err != nil {
		return &LoopError{State: StateAwaitingModel, Round: turn.Rounds + 1, Cause: err}
	}
	turn.Rounds++
	turn.Streamed = inv.Streamed
	resp := inv.Response

	if len(resp.ToolCalls) == 0 {
		turn.Messages = append(turn.Messages, domain.NewAssistantMessage(resp.Content))
		turn.Final = resp.Content
		turn.State = StateDone
		return nil
	}

	if turn.Rounds >= l.config.MaxRounds {
		// The pending calls are dropped so no unanswered request stays in history
		l.logger.Warn(ctx, "Round limit reached with tool calls pending", map[string]interface{}{
			"rounds":        turn.Rounds,
			"pending_calls": len(resp.ToolCalls),
		})
		turn.Messages = append(turn.Messages, domain.NewAssistantMessage(resp.Content))
		turn.Final = resp.Content
		turn.Degraded = true
		turn.State = StateDone
		return nil
	}

	turn.Messages = append(turn.Messages, resp.Message())
	turn.State = StateAwaitingTools
	return nil
}

func (l *Loop) toolStep(ctx context.Context, sink events.Sink, turn *Turn) error {
	last, ok := turn.Last()
	if !ok || !last.HasToolCalls() {
		turn.State = StateAwaitingModel
		return nil
	}
	if l.registry == nil {
		return &LoopError{State: StateAwaitingTools, Round: turn.Rounds, Cause: fmt.Errorf("tool calls requested but no tools are configured")}
	}

	results, skipped, err := l.dispatcher.ExecuteAll(ctx, sink, l.registry, last.ToolCalls)
	if err != nil {
		return &LoopError{State: StateAwaitingTools, Round: turn.Rounds, Cause: err}
	}

	if len(skipped) > 0 {
		turn.Messages[len(turn.Messages)-1] = pruneCalls(last, skipped)
	}
	for _, result := range results {
		turn.Messages = append(turn.Messages, result.ToMessage())
	}

	turn.State = StateAwaitingModel
	return nil
}

// pruneCalls returns a copy of msg without the skipped calls
func pruneCalls(msg domain.Message, skipped []domain.ToolCall) domain.Message {
	drop := make(map[string]bool, len(skipped))
	for _, c := range skipped {
		drop[c.ID] = true
	}
	out := msg.Clone()
	out.ToolCalls = out.ToolCalls[:0]
	for _, c := range msg.ToolCalls {
		if !drop[c.ID] {
			out.ToolCalls = append(out.ToolCalls, c)
		}
	}
	if len(out.ToolCalls) == 0 {
		out.ToolCalls = nil
	}
	return out
}
