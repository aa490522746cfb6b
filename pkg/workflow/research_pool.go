package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/events"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// ResearchPoolConfig holds configuration for the research pool
type ResearchPoolConfig struct {
	MaxWorkers  int           `json:"max_workers"`
	TaskTimeout time.Duration `json:"task_timeout"`
}

// ResearchPool runs one agent loop per research task with bounded
// concurrency. A task's failure never aborts its siblings.
type ResearchPool struct {
	config   ResearchPoolConfig
	loop     *agent.Loop
	registry domain.ToolRegistry

	metrics   *PoolMetrics
	telemetry *observability.Telemetry
	recorder  *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewResearchPool creates a pool. Every task runs loop against its own
// clone of registry.
func NewResearchPool(cfg ResearchPoolConfig, loop *agent.Loop, registry domain.ToolRegistry, telemetry *observability.Telemetry, recorder *observability.Metrics) (*ResearchPool, error) {
	if loop == nil {
		return nil, fmt.Errorf("agent loop is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 5
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}

	return &ResearchPool{
		config:    cfg,
		loop:      loop,
		registry:  registry,
		metrics:   &PoolMetrics{},
		telemetry: telemetry,
		recorder:  recorder,
		logger:    observability.NewStructuredLogger("research_pool"),
	}, nil
}

// Stats returns the pool counters
func (p *ResearchPool) Stats() PoolStats {
	return p.metrics.Snapshot()
}

// Run executes every task and returns them with findings set, in input
// order. It fails only when ctx itself is cancelled.
func (p *ResearchPool) Run(ctx context.Context, sink events.Sink, brief string, history []domain.Message, tasks []domain.ResearchTask) ([]domain.ResearchTask, error) {
	results := make([]domain.ResearchTask, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.config.MaxWorkers)

	p.logger.Info(ctx, "Starting parallel research", map[string]interface{}{
		"tasks":       len(tasks),
		"max_workers": p.config.MaxWorkers,
	})

	for i := range tasks {
		i, task := i, tasks[i]
		p.metrics.taskSubmitted()
		g.Go(func() error {
			results[i] = p.runTask(ctx, sink, brief, history, task)
			return nil
		})
	}
	// Task failures are recorded on the task itself, so Wait only reports
	// a failure of the group.
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parallel research failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parallel research cancelled: %w", err)
	}
	return results, nil
}

func (p *ResearchPool) runTask(ctx context.Context, sink events.Sink, brief string, history []domain.Message, task domain.ResearchTask) domain.ResearchTask {
	start := time.Now()
	p.metrics.taskStarted()
	p.recorder.RecordTaskStarted(ctx)

	ctx, span := p.telemetry.StartSpan(ctx, "research.task",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.question", task.Question),
		),
	)
	defer span.End()

	findings, err := p.research(ctx, sink, brief, history, task)

	status := domain.TaskStatusCompleted
	if err != nil {
		status = domain.TaskStatusFailed
		findings = fmt.Sprintf("Research failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn(ctx, "Research task failed", map[string]interface{}{
			"task_id": task.ID,
			"error":   err.Error(),
		})
	} else {
		span.SetStatus(codes.Ok, "")
	}

	duration := time.Since(start)
	p.metrics.taskFinished(duration, err != nil)
	p.recorder.RecordTaskComplete(ctx, duration, string(status))

	return task.Complete(findings, status)
}

func (p *ResearchPool) research(ctx context.Context, sink events.Sink, brief string, history []domain.Message, task domain.ResearchTask) (findings string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	loop := p.loop.WithRegistry(p.registry.Clone()).WithNode("researcher_" + task.ID).WithStreaming(false)

	messages := make([]domain.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, domain.NewUserMessage(task.Question))

	turn, err := loop.Run(taskCtx, sink, researcherPrompt(task, brief), messages)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("task timed out after %s", p.config.TaskTimeout)
		}
		return "", err
	}
	if turn.Degraded {
		p.logger.Warn(ctx, "Research task hit the round limit", map[string]interface{}{
			"task_id": task.ID,
			"rounds":  turn.Rounds,
		})
	}
	return turn.Final, nil
}
