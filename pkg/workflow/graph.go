package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
)

// End is the pseudo node that terminates a graph
const End = "__end__"

// DefaultStepLimit bounds node executions per run
const DefaultStepLimit = 25

// ErrStepLimit is returned when a run executes more nodes than allowed
var ErrStepLimit = errors.New("graph step limit exceeded")

// NodeFunc executes one node. It reads and updates the workflow state and
// may emit model and tool events to the sink.
type NodeFunc func(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error)

// NodeOutput describes the messages a node produced
type NodeOutput struct {
	Messages []domain.Message
	// Streamed is set when the messages already reached the sink as
	// model_stream or tool_end events.
	Streamed bool
}

// Router picks the next node after a conditional edge
type Router func(st *state.WorkflowState) string

type node struct {
	name  string
	phase domain.Phase
	fn    NodeFunc
}

type conditionalEdge struct {
	router  Router
	targets map[string]bool
}

// Graph builds a workflow graph. Builder errors are collected and
// reported by Compile.
type Graph struct {
	name        string
	nodes       map[string]node
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
	errs        []error
}

// NewGraph starts a new graph
func NewGraph(name string) *Graph {
	return &Graph{
		name:        name,
		nodes:       make(map[string]node),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode registers a node
func (g *Graph) AddNode(name string, phase domain.Phase, fn NodeFunc) *Graph {
	switch {
	case name == "" || name == End:
		g.errs = append(g.errs, fmt.Errorf("invalid node name %q", name))
	case fn == nil:
		g.errs = append(g.errs, fmt.Errorf("node %s has no function", name))
	case g.hasNode(name):
		g.errs = append(g.errs, fmt.Errorf("node %s already exists", name))
	default:
		g.nodes[name] = node{name: name, phase: phase, fn: fn}
	}
	return g
}

// AddEdge adds an unconditional edge
func (g *Graph) AddEdge(from, to string) *Graph {
	if g.hasOutgoing(from) {
		g.errs = append(g.errs, fmt.Errorf("node %s already has an outgoing edge", from))
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdge routes from a node to one of targets using router
func (g *Graph) AddConditionalEdge(from string, router Router, targets ...string) *Graph {
	if g.hasOutgoing(from) {
		g.errs = append(g.errs, fmt.Errorf("node %s already has an outgoing edge", from))
		return g
	}
	if router == nil || len(targets) == 0 {
		g.errs = append(g.errs, fmt.Errorf("conditional edge from %s needs a router and targets", from))
		return g
	}
	set := make(map[string]bool, len(targets))
	for _, t := range targets {
		set[t] = true
	}
	g.conditional[from] = conditionalEdge{router: router, targets: set}
	return g
}

// SetEntryPoint sets the first node
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.entry = name
	return g
}

func (g *Graph) hasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

func (g *Graph) hasOutgoing(name string) bool {
	_, plain := g.edges[name]
	_, cond := g.conditional[name]
	return plain || cond
}

// CompileOption configures a compiled graph
type CompileOption func(*CompiledGraph)

// WithStepLimit overrides DefaultStepLimit
func WithStepLimit(n int) CompileOption {
	return func(c *CompiledGraph) {
		if n > 0 {
			c.stepLimit = n
		}
	}
}

// WithTelemetry instruments every node with a span
func WithTelemetry(t *observability.Telemetry) CompileOption {
	return func(c *CompiledGraph) {
		c.telemetry = t
	}
}

// Compile validates the graph and returns an executable version
func (g *Graph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	errs := append([]error(nil), g.errs...)

	if g.entry == "" {
		errs = append(errs, fmt.Errorf("graph %s has no entry point", g.name))
	} else if !g.hasNode(g.entry) {
		errs = append(errs, fmt.Errorf("entry point %s is not a node", g.entry))
	}

	for from, to := range g.edges {
		if !g.hasNode(from) {
			errs = append(errs, fmt.Errorf("edge from unknown node %s", from))
		}
		if to != End && !g.hasNode(to) {
			errs = append(errs, fmt.Errorf("edge from %s to unknown node %s", from, to))
		}
	}
	for from, edge := range g.conditional {
		if !g.hasNode(from) {
			errs = append(errs, fmt.Errorf("conditional edge from unknown node %s", from))
		}
		for to := range edge.targets {
			if to != End && !g.hasNode(to) {
				errs = append(errs, fmt.Errorf("conditional edge from %s to unknown node %s", from, to))
			}
		}
	}
	for name := range g.nodes {
		if !g.hasOutgoing(name) {
			errs = append(errs, fmt.Errorf("node %s has no outgoing edge", name))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("compile graph %s: %w", g.name, errors.Join(errs...))
	}

	c := &CompiledGraph{
		name:        g.name,
		nodes:       g.nodes,
		edges:       g.edges,
		conditional: g.conditional,
		entry:       g.entry,
		stepLimit:   DefaultStepLimit,
		logger:      observability.NewStructuredLogger("workflow_graph"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CompiledGraph executes nodes in edge order
type CompiledGraph struct {
	name        string
	nodes       map[string]node
	edges       map[string]string
	conditional map[string]conditionalEdge
	entry       string
	stepLimit   int
	telemetry   *observability.Telemetry
	logger      *observability.StructuredLogger
}

// Name returns the graph name
func (c *CompiledGraph) Name() string {
	return c.name
}

// Run executes the graph from the entry point until End. Node output that
// was not token streamed is emitted as chain_stream; a single root
// chain_end carrying the final messages closes a successful run. Errors
// are returned, never emitted.
func (c *CompiledGraph) Run(ctx context.Context, st *state.WorkflowState, sink events.Sink) error {
	if sink == nil {
		sink = events.Discard
	}

	current := c.entry
	for current != End {
		if st.IncrementStep() > c.stepLimit {
			return fmt.Errorf("%w: %d steps in graph %s", ErrStepLimit, c.stepLimit, c.name)
		}
		n := c.nodes[current]
		st.SetPhase(n.phase)

		var out *NodeOutput
		err := c.telemetry.InstrumentWorkflowNode(ctx, n.name, string(n.phase), func(ctx context.Context) error {
			var nodeErr error
			out, nodeErr = runNode(ctx, n, st, sink)
			return nodeErr
		})
		if err != nil {
			return fmt.Errorf("%s node failed: %w", n.name, err)
		}

		if out != nil && len(out.Messages) > 0 && !out.Streamed {
			if err := sink.Send(ctx, events.Event{
				Kind: events.KindChainStream,
				Name: n.name,
				Data: out.Messages,
			}); err != nil {
				return err
			}
		}

		next, err := c.next(n.name, st)
		if err != nil {
			return err
		}
		c.logger.Debug(ctx, "Node finished", map[string]interface{}{
			"graph": c.name,
			"node":  n.name,
			"next":  next,
		})
		current = next
	}

	st.SetPhase(domain.PhaseComplete)
	return sink.Send(ctx, events.Event{
		Kind: events.KindChainEnd,
		Name: c.name,
		Root: true,
		Data: st.Messages(),
	})
}

func (c *CompiledGraph) next(from string, st *state.WorkflowState) (string, error) {
	if edge, ok := c.conditional[from]; ok {
		to := edge.router(st)
		if !edge.targets[to] {
			return "", fmt.Errorf("router of %s chose undeclared target %q", from, to)
		}
		return to, nil
	}
	return c.edges[from], nil
}

func runNode(ctx context.Context, n node, st *state.WorkflowState, sink events.Sink) (out *NodeOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return n.fn(ctx, st, sink)
}
