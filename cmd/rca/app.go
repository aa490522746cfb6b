package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/agent"
	"github.com/ncolesummers/research-chat-agent/pkg/chat"
	"github.com/ncolesummers/research-chat-agent/pkg/config"
	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/history"
	"github.com/ncolesummers/research-chat-agent/pkg/llm"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
	"github.com/ncolesummers/research-chat-agent/pkg/state"
	"github.com/ncolesummers/research-chat-agent/pkg/storage"
	"github.com/ncolesummers/research-chat-agent/pkg/tools"
	"github.com/ncolesummers/research-chat-agent/pkg/workflow"
)

// app holds the wired components shared by every command
type app struct {
	cfg          *config.Config
	telemetry    *observability.Telemetry
	metrics      *observability.Metrics
	store        domain.ChatStore
	checkpointer state.Checkpointer
	chats        *chat.Service
	logger       *observability.StructuredLogger
}

// loadConfig reads the config file and applies the log level
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(cli.Config)
	if err != nil {
		return nil, err
	}
	if cli.LogLevel != "" {
		cfg.Observability.Logging.Level = cli.LogLevel
	}
	level, err := observability.ParseLogLevel(cfg.Observability.Logging.Level)
	if err != nil {
		return nil, err
	}
	observability.SetLogLevel(level)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: observability.NewStructuredLogger("main"),
	}

	var err error
	a.telemetry, err = observability.NewTelemetry(&observability.TelemetryConfig{
		ServiceName:    "research-chat-agent",
		ServiceVersion: Version,
		Environment:    environment(cfg),
		OTLPEndpoint:   cfg.Observability.Tracing.Endpoint,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableTracing:  cfg.Observability.Tracing.Enabled,
		EnableMetrics:  cfg.Observability.Metrics.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if cfg.Observability.Metrics.Enabled {
		a.metrics, err = observability.NewMetrics(a.telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	apiKey, baseURL := cfg.ModelAPIKey()
	client, err := llm.New(llm.Config{
		Provider:    cfg.Model.Provider,
		Model:       cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
		Timeout:     cfg.ModelTimeout(),
		APIKey:      apiKey,
		BaseURL:     baseURL,
		Breaker:     llm.DefaultBreakerConfig(),
	}, a.telemetry, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	engine, err := a.buildEngine(client)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.New(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open chat store: %w", err)
	}

	titles := chat.NewTitleGenerator(client, cfg.Chat.TitleTemperature, cfg.Chat.TitleMaxTokens)
	a.chats, err = chat.NewService(engine, a.store, titles, a.metrics)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	a.logger.Info(ctx, "Components initialized", map[string]interface{}{
		"provider": cfg.Model.Provider,
		"model":    cfg.Model.Name,
		"storage":  cfg.Storage.Type,
	})
	return a, nil
}

// buildEngine wires both graphs. Chat and research get separate registries
// because research searches deeper.
func (a *app) buildEngine(client domain.LLMClient) (*workflow.Engine, error) {
	cfg := a.cfg

	chatTools, err := buildRegistry(cfg, cfg.Tools.Tavily.SearchDepth)
	if err != nil {
		return nil, err
	}
	researchTools, err := buildRegistry(cfg, cfg.Tools.Tavily.ResearchSearchDepth)
	if err != nil {
		return nil, err
	}

	model := agent.Model{
		Client:    client,
		Options:   domain.ChatOptions{Temperature: cfg.Model.Temperature, MaxTokens: cfg.Model.MaxTokens},
		Streaming: cfg.StreamingEnabled(),
	}
	trimmer := history.NewTrimmer(cfg.Chat.HistoryMaxMessages)
	dispatcher := tools.NewDispatcher(a.telemetry, a.metrics)

	chatLoop := agent.NewLoop(model, chatTools, dispatcher, trimmer, agent.Config{MaxRounds: cfg.Chat.MaxRounds})
	researchLoop := agent.NewLoop(model, researchTools, dispatcher, trimmer, agent.Config{MaxRounds: cfg.Research.MaxRounds})

	simple, err := workflow.NewSimpleGraph(chatLoop, workflow.WithTelemetry(a.telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat graph: %w", err)
	}

	pool, err := workflow.NewResearchPool(workflow.ResearchPoolConfig{
		MaxWorkers:  cfg.Research.MaxConcurrency,
		TaskTimeout: cfg.TaskTimeout(),
	}, researchLoop, researchTools, a.telemetry, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to build research pool: %w", err)
	}

	deep, err := workflow.NewDeepResearchGraph(workflow.DeepResearchConfig{
		Model:    model,
		Trimmer:  trimmer,
		Pool:     pool,
		MaxTasks: cfg.Research.MaxTasks,
		Metrics:  a.metrics,
	}, workflow.WithTelemetry(a.telemetry))
	if err != nil {
		return nil, fmt.Errorf("failed to build deep research graph: %w", err)
	}

	a.checkpointer = state.NewMemoryStore()
	return workflow.NewEngine(workflow.EngineConfig{
		Simple:       simple,
		Deep:         deep,
		Checkpointer: a.checkpointer,
		Telemetry:    a.telemetry,
		Metrics:      a.metrics,
	})
}

// buildRegistry registers every enabled tool. Web search without a key is
// skipped with a warning rather than failing startup.
func buildRegistry(cfg *config.Config, searchDepth string) (*tools.BasicRegistry, error) {
	logger := observability.NewStructuredLogger("main")
	registry, err := tools.NewBasicRegistry()
	if err != nil {
		return nil, err
	}

	var enabled []domain.Tool
	if t := cfg.Tools.Tavily; t.Enabled {
		if t.APIKey == "" {
			logger.Warn(context.Background(), "Web search disabled: TAVILY_API_KEY is not set")
		} else {
			search, err := tools.NewTavilyTool(tools.TavilyConfig{
				APIKey:      t.APIKey,
				BaseURL:     t.BaseURL,
				MaxResults:  t.MaxResults,
				SearchDepth: searchDepth,
			})
			if err != nil {
				return nil, err
			}
			enabled = append(enabled, search)
		}
	}
	if cfg.Tools.Wikipedia.Enabled {
		enabled = append(enabled, tools.NewWikipediaTool(tools.WikipediaConfig{BaseURL: cfg.WikipediaURL()}))
	}
	if b := cfg.Tools.GoogleBooks; b.Enabled {
		enabled = append(enabled, tools.NewGoogleBooksTool(tools.GoogleBooksConfig{
			APIKey:     b.APIKey,
			BaseURL:    b.BaseURL,
			MaxResults: b.MaxResults,
		}))
	}
	if cfg.Tools.Think.Enabled {
		enabled = append(enabled, tools.NewThinkTool())
	}

	for _, t := range enabled {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}
	return registry, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error(ctx, "Failed to close chat store", err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Error(ctx, "Failed to shut down telemetry", err)
		}
	}
}

func environment(cfg *config.Config) string {
	if cfg.IsProduction() {
		return "production"
	}
	return "development"
}
