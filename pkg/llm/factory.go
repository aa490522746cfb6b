package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/ncolesummers/research-chat-agent/pkg/domain"
	"github.com/ncolesummers/research-chat-agent/pkg/observability"
)

// Config selects and configures a provider
type Config struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	APIKey      string
	BaseURL     string
	Breaker     BreakerConfig
}

// New builds the configured provider client wrapped with a circuit breaker
// and instrumentation
func New(cfg Config, telemetry *observability.Telemetry, metrics *observability.Metrics) (domain.LLMClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderAnthropic
	}

	var (
		client domain.LLMClient
		model  = cfg.Model
		err    error
	)
	switch provider {
	case ProviderAnthropic:
		if model == "" {
			model = DefaultAnthropicModel
		}
		client, err = NewAnthropicClient(AnthropicConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderOpenAI:
		if model == "" {
			model = DefaultOpenAIModel
		}
		client, err = NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderOllama:
		if model == "" {
			return nil, fmt.Errorf("ollama requires a model name")
		}
		client = NewOllamaClient(cfg.BaseURL, model, &OllamaOptions{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewInstrumentedClient(NewBreakerClient(client, cfg.Breaker), provider, model, telemetry, metrics)
}
