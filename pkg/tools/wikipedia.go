package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const DefaultWikipediaURL = "https://en.wikipedia.org"

// WikipediaConfig configures the encyclopedia lookup tool
type WikipediaConfig struct {
	BaseURL string
	// MaxPages bounds how many matching pages get a summary fetched.
	MaxPages int
	HTTP     HTTPConfig
}

// WikipediaTool searches Wikipedia and returns page summaries
type WikipediaTool struct {
	cfg    WikipediaConfig
	client *jsonClient
}

type wikipediaArgs struct {
	Query string `json:"query" jsonschema_description:"Topic or title to look up"`
}

type wikiSearchResponse struct {
	Pages []struct {
		Key         string `json:"key"`
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"pages"`
}

type wikiSummary struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// WikipediaPage is one summarized article
type WikipediaPage struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

// NewWikipediaTool creates the lookup tool
func NewWikipediaTool(cfg WikipediaConfig) *WikipediaTool {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultWikipediaURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 2
	}
	return &WikipediaTool{cfg: cfg, client: newJSONClient(cfg.HTTP)}
}

// Name returns the tool name
func (t *WikipediaTool) Name() string {
	return "wikipedia"
}

// Description returns the tool description
func (t *WikipediaTool) Description() string {
	return "Look up a topic on Wikipedia. Returns article summaries with links."
}

// Execute searches for matching pages and fetches their summaries
func (t *WikipediaTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	searchURL := fmt.Sprintf("%s/w/rest.php/v1/search/page?q=%s&limit=%d",
		t.cfg.BaseURL, url.QueryEscape(query), t.cfg.MaxPages)

	var search wikiSearchResponse
	if err := t.client.do(ctx, "GET", searchURL, nil, &search); err != nil {
		return nil, fmt.Errorf("wikipedia search failed: %w", err)
	}
	if len(search.Pages) == 0 {
		return fmt.Sprintf("No Wikipedia articles found for %q", query), nil
	}

	pages := make([]WikipediaPage, 0, len(search.Pages))
	for i, p := range search.Pages {
		if i >= t.cfg.MaxPages {
			break
		}
		var summary wikiSummary
		summaryURL := fmt.Sprintf("%s/api/rest_v1/page/summary/%s", t.cfg.BaseURL, url.PathEscape(p.Key))
		if err := t.client.do(ctx, "GET", summaryURL, nil, &summary); err != nil {
			// A missing summary still leaves the search description.
			pages = append(pages, WikipediaPage{Title: p.Title, Summary: p.Description})
			continue
		}
		pages = append(pages, WikipediaPage{
			Title:   summary.Title,
			Summary: summary.Extract,
			URL:     summary.ContentURLs.Desktop.Page,
		})
	}
	return pages, nil
}

// Schema returns the tool's parameter schema
func (t *WikipediaTool) Schema() json.RawMessage {
	return SchemaFor[wikipediaArgs]()
}
