package workflow

import (
	"context"
	"fmt"

	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/history"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
)

// Deep research node names
const (
	DeepResearchGraphName = "deep_research"
	NodeClarify           = "clarify"
	NodePlan              = "plan"
	NodeParallelResearch  = "parallel_research"
	NodeReport            = "report"
)

// DeepResearchConfig wires the deep research graph
type DeepResearchConfig struct {
	// Model answers the clarify, plan and report steps.
	Model   agent.Model
	Trimmer *history.Trimmer
	Pool    *ResearchPool
	// MaxTasks caps the planned tasks. Defaults to DefaultMaxTasks.
	MaxTasks int
	Metrics  *observability.Metrics
}

type deepResearch struct {
	config DeepResearchConfig
	logger *observability.StructuredLogger
}

// NewDeepResearchGraph builds clarify → plan → parallel_research → report
func NewDeepResearchGraph(cfg DeepResearchConfig, opts ...CompileOption) (*CompiledGraph, error) {
	if cfg.Model.Client == nil {
		return nil, fmt.Errorf("llm client is required")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("research pool is required")
	}
	if cfg.Trimmer == nil {
		cfg.Trimmer = history.NewTrimmer(history.DefaultMaxMessages)
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = DefaultMaxTasks
	}

	d := &deepResearch{
		config: cfg,
		logger: observability.NewStructuredLogger("deep_research"),
	}

	return NewGraph(DeepResearchGraphName).
		AddNode(NodeClarify, domain.PhaseClarification, d.clarify).
		AddNode(NodePlan, domain.PhasePlanning, d.plan).
		AddNode(NodeParallelResearch, domain.PhaseResearch, d.research).
		AddNode(NodeReport, domain.PhaseReporting, d.report).
		AddEdge(NodeClarify, NodePlan).
		AddEdge(NodePlan, NodeParallelResearch).
		AddEdge(NodeParallelResearch, NodeReport).
		AddEdge(NodeReport, End).
		SetEntryPoint(NodeClarify).
		Compile(opts...)
}

// ask makes one model call over the prepared history and appends the answer
func (d *deepResearch) ask(ctx context.Context, st *state.WorkflowState, sink events.Sink, node, system string, streaming bool) (*NodeOutput, *domain.ChatResponse, error) {
	model := d.config.Model
	model.Streaming = streaming

	prepared := d.config.Trimmer.Prepare(system, st.Messages())
	inv, err := model.Invoke(ctx, sink, node, prepared, nil)
	if err != nil {
		return nil, nil, err
	}

	msg := domain.NewAssistantMessage(inv.Response.Content)
	st.AddMessage(msg)
	return &NodeOutput{Messages: []domain.Message{msg}, Streamed: inv.Streamed}, inv.Response, nil
}

func (d *deepResearch) clarify(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error) {
	out, _, err := d.ask(ctx, st, sink, NodeClarify, clarifySystemPrompt, d.config.Model.Streaming)
	return out, err
}

// plan is never token streamed; its text reaches the client as node output
func (d *deepResearch) plan(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error) {
	out, resp, err := d.ask(ctx, st, sink, NodePlan, planSystemPrompt, false)
	if err != nil {
		return nil, err
	}

	plan := ParsePlan(resp.Content, d.config.MaxTasks)
	if plan.Fallback {
		d.config.Metrics.RecordPlanFallback(ctx)
		d.logger.Warn(ctx, "Research plan unusable, falling back to a single task", map[string]interface{}{
			"error": plan.Err.Error(),
		})
	}
	if err := st.SetPlan(plan.Brief, plan.Tasks); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "Research plan ready", map[string]interface{}{
		"tasks":    len(plan.Tasks),
		"fallback": plan.Fallback,
	})
	return out, nil
}

func (d *deepResearch) research(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error) {
	done, err := d.config.Pool.Run(ctx, sink, st.GetBrief(), st.Messages(), st.GetTasks())
	if err != nil {
		return nil, err
	}
	if err := st.CompleteTasks(done); err != nil {
		return nil, err
	}

	stats := st.GetTaskStats()
	d.logger.Info(ctx, "Parallel research finished", map[string]interface{}{
		"completed": stats.Completed,
		"failed":    stats.Failed,
	})
	return &NodeOutput{}, nil
}

func (d *deepResearch) report(ctx context.Context, st *state.WorkflowState, sink events.Sink) (*NodeOutput, error) {
	system := reportPrompt(st.Question(), st.GetBrief(), st.GetTasks())
	out, _, err := d.ask(ctx, st, sink, NodeReport, system, d.config.Model.Streaming)
	return out, err
}
