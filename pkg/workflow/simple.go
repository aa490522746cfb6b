package workflow

import (
	"context"
	"fmt"

	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
)

// Simple graph node names
const (
	SimpleGraphName = "simple_chat"
	NodeAgent       = "agent"
	NodeTools       = "tools"
)

// NewSimpleGraph builds the chat graph: agent, then tools while the model
// keeps requesting them.
func NewSimpleGraph(loop *agent.Loop, opts ...CompileOption) (*CompiledGraph, error) {
	if loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	loop = loop.WithNode(NodeAgent)

	// Two graph steps per round plus the final answer
	limit := 2*loop.MaxRounds() + 1
	opts = append([]CompileOption{WithStepLimit(limit)}, opts...)

	return NewGraph(SimpleGraphName).
		AddNode(NodeAgent, domain.PhaseAgent, stepNode(loop, agent.StateAwaitingModel)).
		AddNode(NodeTools, domain.PhaseTools, stepNode(loop, agent.StateAwaitingTools)).
		AddConditionalEdge(NodeAgent, routeAfterAgent, NodeTools, End).
		AddEdge(NodeTools, NodeAgent).
		SetEntryPoint(NodeAgent).
		Compile(opts...)
}

func routeAfterAgent(st *state.WorkflowState) string {
	if st.TurnState() == agent.StateAwaitingTools {
		return NodeTools
	}
	return End
}

// stepNode advances the turn by one loop transition. The node only runs
// when the turn is in the expected state.
func stepNode(loop *agent.Loop, expect agent.State) NodeFunc {
	return func(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error) {
		out := &NodeOutput{}
		err := st.UpdateTurn(func(turn *agent.Turn) error {
			if turn.State != expect {
				return fmt.Errorf("turn is %s, expected %s", turn.State, expect)
			}
			before := len(turn.Messages)
			if err := loop.Step(ctx, sink, turn); err != nil {
				return err
			}
			// A pruned assistant message is replaced in place, so only
			// appended messages count as output.
			out.Messages = append(out.Messages, turn.Messages[before:]...)
			if expect == agent.StateAwaitingModel {
				out.Streamed = turn.Streamed
			} else {
				out.Streamed = true
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}
