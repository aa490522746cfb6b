package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	DefaultTavilyURL = "https://api.tavily.com"

	SearchDepthBasic    = "basic"
	SearchDepthAdvanced = "advanced"
)

// TavilyConfig configures the web search tool
type TavilyConfig struct {
	APIKey      string
	BaseURL     string
	MaxResults  int
	SearchDepth string
	HTTP        HTTPConfig
}

// TavilyTool searches the web through the Tavily API
type TavilyTool struct {
	cfg    TavilyConfig
	client *jsonClient
}

type tavilyArgs struct {
	Query      string `json:"query" jsonschema_description:"The search query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema_description:"Maximum number of results to return"`
}

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

// TavilyResult is one search hit
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Results []TavilyResult `json:"results"`
}

// NewTavilyTool creates the search tool
func NewTavilyTool(cfg TavilyConfig) (*TavilyTool, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("tavily api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTavilyURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	switch cfg.SearchDepth {
	case SearchDepthBasic, SearchDepthAdvanced:
	case "":
		cfg.SearchDepth = SearchDepthBasic
	default:
		return nil, fmt.Errorf("unknown tavily search depth %q", cfg.SearchDepth)
	}
	return &TavilyTool{cfg: cfg, client: newJSONClient(cfg.HTTP)}, nil
}

// WithSearchDepth returns a copy of the tool using a different search depth
func (t *TavilyTool) WithSearchDepth(depth string) *TavilyTool {
	cfg := t.cfg
	cfg.SearchDepth = depth
	return &TavilyTool{cfg: cfg, client: t.client}
}

// SearchDepth returns the configured search depth
func (t *TavilyTool) SearchDepth() string {
	return t.cfg.SearchDepth
}

// Name returns the tool name
func (t *TavilyTool) Name() string {
	return "tavily_search"
}

// Description returns the tool description
func (t *TavilyTool) Description() string {
	return "Search the web for current information. Returns titles, URLs and content snippets."
}

// Execute runs the search
func (t *TavilyTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	maxResults := intArg(args, "max_results", t.cfg.MaxResults)
	if maxResults <= 0 || maxResults > t.cfg.MaxResults {
		maxResults = t.cfg.MaxResults
	}

	var resp tavilyResponse
	err := t.client.do(ctx, "POST", t.cfg.BaseURL+"/search", tavilyRequest{
		APIKey:      t.cfg.APIKey,
		Query:       query,
		MaxResults:  maxResults,
		SearchDepth: t.cfg.SearchDepth,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("tavily search failed: %w", err)
	}

	if len(resp.Results) > maxResults {
		resp.Results = resp.Results[:maxResults]
	}
	return resp.Results, nil
}

// Schema returns the tool's parameter schema
func (t *TavilyTool) Schema() json.RawMessage {
	return SchemaFor[tavilyArgs]()
}
