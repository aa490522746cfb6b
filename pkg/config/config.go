package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Model         ModelConfig         `yaml:"model" toml:"model"`
	Anthropic     ProviderConfig      `yaml:"anthropic" toml:"anthropic"`
	OpenAI        ProviderConfig      `yaml:"openai" toml:"openai"`
	Ollama        OllamaConfig        `yaml:"ollama" toml:"ollama"`
	Chat          ChatConfig          `yaml:"chat" toml:"chat"`
	Research      ResearchConfig      `yaml:"research" toml:"research"`
	Tools         ToolsConfig         `yaml:"tools" toml:"tools"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	API           APIConfig           `yaml:"api" toml:"api"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
}

// ModelConfig selects the language model shared by every workflow node
type ModelConfig struct {
	Provider    string  `yaml:"provider" toml:"provider"` // "anthropic", "openai", "ollama"
	Name        string  `yaml:"name" toml:"name"`
	Temperature float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" toml:"max_tokens"`
	Streaming   *bool   `yaml:"streaming,omitempty" toml:"streaming,omitempty"`
	Timeout     string  `yaml:"timeout" toml:"timeout"`
}

// ProviderConfig holds credentials for a hosted model API
type ProviderConfig struct {
	APIKey  string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
}

// OllamaConfig contains Ollama-specific configuration
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// ChatConfig tunes the simple chat agent and title generation
type ChatConfig struct {
	HistoryMaxMessages int     `yaml:"history_max_messages" toml:"history_max_messages"`
	MaxRounds          int     `yaml:"max_rounds" toml:"max_rounds"`
	TitleTemperature   float64 `yaml:"title_temperature" toml:"title_temperature"`
	TitleMaxTokens     int     `yaml:"title_max_tokens" toml:"title_max_tokens"`
}

// ResearchConfig contains research workflow configuration
type ResearchConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency" toml:"max_concurrency"`
	TaskTimeout    string `yaml:"task_timeout" toml:"task_timeout"`
	MaxRounds      int    `yaml:"max_rounds" toml:"max_rounds"`
	MaxTasks       int    `yaml:"max_tasks" toml:"max_tasks"`
}

// ToolsConfig contains tool-specific configuration
type ToolsConfig struct {
	Tavily      TavilyConfig      `yaml:"tavily" toml:"tavily"`
	Wikipedia   WikipediaConfig   `yaml:"wikipedia" toml:"wikipedia"`
	GoogleBooks GoogleBooksConfig `yaml:"google_books" toml:"google_books"`
	Think       ThinkConfig       `yaml:"think" toml:"think"`
}

// TavilyConfig configures web search
type TavilyConfig struct {
	Enabled             bool   `yaml:"enabled" toml:"enabled"`
	APIKey              string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL             string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	MaxResults          int    `yaml:"max_results" toml:"max_results"`
	SearchDepth         string `yaml:"search_depth" toml:"search_depth"`
	ResearchSearchDepth string `yaml:"research_search_depth" toml:"research_search_depth"`
}

// WikipediaConfig configures the encyclopedia lookup
type WikipediaConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	BaseURL  string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Language string `yaml:"language" toml:"language"`
}

// GoogleBooksConfig configures the book search
type GoogleBooksConfig struct {
	Enabled    bool   `yaml:"enabled" toml:"enabled"`
	APIKey     string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	MaxResults int    `yaml:"max_results" toml:"max_results"`
}

// ThinkConfig contains thinking tool configuration
type ThinkConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// StorageConfig contains chat storage configuration
type StorageConfig struct {
	Type string `yaml:"type" toml:"type"` // "memory", "sqlite"
	Path string `yaml:"path,omitempty" toml:"path,omitempty"`
}

// APIConfig contains API server configuration
type APIConfig struct {
	Port int    `yaml:"port" toml:"port"`
	Host string `yaml:"host" toml:"host"`
	// DoneSentinel ends streams with "data: [DONE]" instead of a done event.
	DoneSentinel bool       `yaml:"done_sentinel" toml:"done_sentinel"`
	CORS         CORSConfig `yaml:"cors" toml:"cors"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" toml:"enabled"`
	Endpoint     string  `yaml:"endpoint" toml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"` // "debug", "info", "warn", "error"
}

// Load loads configuration from a YAML or TOML file. The format follows the
// file extension; anything other than .toml is read as YAML.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if isTOML(path) {
		if _, err := toml.Decode(string(data), config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.overrideFromEnv(); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file, falling back to the
// defaults (with environment overrides) when path is empty or missing. A
// file that exists but does not parse is still an error.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	config := Default()
	if err := config.overrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "anthropic",
			Name:        "claude-3-5-sonnet-20241022",
			Temperature: 0.5,
			MaxTokens:   4096,
			Streaming:   boolPtr(true),
			Timeout:     "2m",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Chat: ChatConfig{
			HistoryMaxMessages: 10,
			MaxRounds:          10,
			TitleTemperature:   0.3,
			TitleMaxTokens:     50,
		},
		Research: ResearchConfig{
			MaxConcurrency: 5,
			TaskTimeout:    "2m",
			MaxRounds:      10,
			MaxTasks:       5,
		},
		Tools: ToolsConfig{
			Tavily: TavilyConfig{
				Enabled:             true,
				MaxResults:          5,
				SearchDepth:         "basic",
				ResearchSearchDepth: "advanced",
			},
			Wikipedia: WikipediaConfig{
				Enabled:  true,
				Language: "en",
			},
			GoogleBooks: GoogleBooksConfig{
				Enabled:    true,
				MaxResults: 5,
			},
			Think: ThinkConfig{
				Enabled: true,
			},
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "./data/chats.db",
		},
		API: APIConfig{
			Port: 8080,
			Host: "0.0.0.0",
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Port:    2223,
			},
			Logging: LoggingConfig{
				Level: "info",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Model.Provider == "" {
		c.Model.Provider = defaults.Model.Provider
	}
	// The default model name only fits the default provider
	if c.Model.Name == "" && c.Model.Provider == defaults.Model.Provider {
		c.Model.Name = defaults.Model.Name
	}
	if c.Model.Temperature == 0 {
		c.Model.Temperature = defaults.Model.Temperature
	}
	if c.Model.MaxTokens == 0 {
		c.Model.MaxTokens = defaults.Model.MaxTokens
	}
	if c.Model.Streaming == nil {
		c.Model.Streaming = defaults.Model.Streaming
	}
	if c.Model.Timeout == "" {
		c.Model.Timeout = defaults.Model.Timeout
	}

	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaults.Ollama.BaseURL
	}

	if c.Chat.HistoryMaxMessages == 0 {
		c.Chat.HistoryMaxMessages = defaults.Chat.HistoryMaxMessages
	}
	if c.Chat.MaxRounds == 0 {
		c.Chat.MaxRounds = defaults.Chat.MaxRounds
	}
	if c.Chat.TitleTemperature == 0 {
		c.Chat.TitleTemperature = defaults.Chat.TitleTemperature
	}
	if c.Chat.TitleMaxTokens == 0 {
		c.Chat.TitleMaxTokens = defaults.Chat.TitleMaxTokens
	}

	if c.Research.MaxConcurrency == 0 {
		c.Research.MaxConcurrency = defaults.Research.MaxConcurrency
	}
	if c.Research.TaskTimeout == "" {
		c.Research.TaskTimeout = defaults.Research.TaskTimeout
	}
	if c.Research.MaxRounds == 0 {
		c.Research.MaxRounds = defaults.Research.MaxRounds
	}
	if c.Research.MaxTasks == 0 {
		c.Research.MaxTasks = defaults.Research.MaxTasks
	}

	if c.Tools.Tavily.MaxResults == 0 {
		c.Tools.Tavily.MaxResults = defaults.Tools.Tavily.MaxResults
	}
	if c.Tools.Tavily.SearchDepth == "" {
		c.Tools.Tavily.SearchDepth = defaults.Tools.Tavily.SearchDepth
	}
	if c.Tools.Tavily.ResearchSearchDepth == "" {
		c.Tools.Tavily.ResearchSearchDepth = defaults.Tools.Tavily.ResearchSearchDepth
	}
	if c.Tools.Wikipedia.Language == "" {
		c.Tools.Wikipedia.Language = defaults.Tools.Wikipedia.Language
	}
	if c.Tools.GoogleBooks.MaxResults == 0 {
		c.Tools.GoogleBooks.MaxResults = defaults.Tools.GoogleBooks.MaxResults
	}

	if c.Storage.Type == "" {
		c.Storage.Type = defaults.Storage.Type
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}

	if c.API.Port == 0 {
		c.API.Port = defaults.API.Port
	}
	if c.API.Host == "" {
		c.API.Host = defaults.API.Host
	}
	if len(c.API.CORS.AllowedOrigins) == 0 {
		c.API.CORS.AllowedOrigins = defaults.API.CORS.AllowedOrigins
	}

	if c.Observability.Tracing.Endpoint == "" {
		c.Observability.Tracing.Endpoint = defaults.Observability.Tracing.Endpoint
	}
	if c.Observability.Tracing.SamplingRate == 0 {
		c.Observability.Tracing.SamplingRate = defaults.Observability.Tracing.SamplingRate
	}
	if c.Observability.Metrics.Port == 0 {
		c.Observability.Metrics.Port = defaults.Observability.Metrics.Port
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = defaults.Observability.Logging.Level
	}
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() error {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Anthropic.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if url := os.Getenv("OLLAMA_BASE_URL"); url != "" {
		c.Ollama.BaseURL = url
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Tools.Tavily.APIKey = key
	}
	if key := os.Getenv("GOOGLE_BOOKS_API_KEY"); key != "" {
		c.Tools.GoogleBooks.APIKey = key
	}

	if port := os.Getenv("API_PORT"); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid API_PORT value %q: %w", port, err)
		}
		c.API.Port = n
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	switch c.Model.Provider {
	case "anthropic", "openai":
	case "ollama":
		if c.Model.Name == "" {
			return fmt.Errorf("model name is required for ollama")
		}
		if c.Ollama.BaseURL == "" {
			return fmt.Errorf("ollama base_url is required")
		}
	default:
		return fmt.Errorf("unknown model provider %q", c.Model.Provider)
	}
	if c.Model.MaxTokens < 1 {
		return fmt.Errorf("model max_tokens must be at least 1")
	}

	if c.Chat.HistoryMaxMessages < 1 {
		return fmt.Errorf("chat history_max_messages must be at least 1")
	}
	if c.Research.MaxConcurrency < 1 {
		return fmt.Errorf("research max_concurrency must be at least 1")
	}
	if c.Research.MaxTasks < 1 {
		return fmt.Errorf("research max_tasks must be at least 1")
	}

	for _, depth := range []string{c.Tools.Tavily.SearchDepth, c.Tools.Tavily.ResearchSearchDepth} {
		if depth != "basic" && depth != "advanced" {
			return fmt.Errorf("invalid tavily search depth %q", depth)
		}
	}

	switch c.Storage.Type {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api port must be between 1 and 65535")
	}
	if c.Observability.Metrics.Enabled && (c.Observability.Metrics.Port < 1 || c.Observability.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}

	if _, err := time.ParseDuration(c.Model.Timeout); err != nil {
		return fmt.Errorf("invalid model timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Research.TaskTimeout); err != nil {
		return fmt.Errorf("invalid research task_timeout: %w", err)
	}

	return nil
}

// Save saves the configuration to a file, as TOML for a .toml path and
// YAML otherwise
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// StreamingEnabled reports whether model output is streamed token by token
func (c *Config) StreamingEnabled() bool {
	return c.Model.Streaming == nil || *c.Model.Streaming
}

// ModelTimeout returns the parsed model timeout
func (c *Config) ModelTimeout() time.Duration {
	return mustDuration(c.Model.Timeout)
}

// TaskTimeout returns the parsed research task timeout
func (c *Config) TaskTimeout() time.Duration {
	return mustDuration(c.Research.TaskTimeout)
}

// ModelAPIKey returns the credentials for the configured provider
func (c *Config) ModelAPIKey() (apiKey, baseURL string) {
	switch c.Model.Provider {
	case "openai":
		return c.OpenAI.APIKey, c.OpenAI.BaseURL
	case "ollama":
		return "", c.Ollama.BaseURL
	default:
		return c.Anthropic.APIKey, c.Anthropic.BaseURL
	}
}

// WikipediaURL returns the base URL for the configured language
func (c *Config) WikipediaURL() string {
	if c.Tools.Wikipedia.BaseURL != "" {
		return c.Tools.Wikipedia.BaseURL
	}
	return fmt.Sprintf("https://%s.wikipedia.org", c.Tools.Wikipedia.Language)
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	return env == "production" || env == "prod"
}

// validate has already rejected unparsable durations
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func boolPtr(b bool) *bool {
	return &b
}
