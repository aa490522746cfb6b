package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const DefaultGoogleBooksURL = "https://www.googleapis.com"

// GoogleBooksConfig configures the book search tool
type GoogleBooksConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
	HTTP       HTTPConfig
}

// GoogleBooksTool searches the Google Books catalogue
type GoogleBooksTool struct {
	cfg    GoogleBooksConfig
	client *jsonClient
}

type booksArgs struct {
	Query string `json:"query" jsonschema_description:"Search terms, e.g. a title, author or subject"`
}

type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title         string   `json:"title"`
			Authors       []string `json:"authors"`
			Publisher     string   `json:"publisher"`
			PublishedDate string   `json:"publishedDate"`
			Description   string   `json:"description"`
			InfoLink      string   `json:"infoLink"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Book is one search result
type Book struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors,omitempty"`
	Publisher     string   `json:"publisher,omitempty"`
	PublishedDate string   `json:"published_date,omitempty"`
	Description   string   `json:"description,omitempty"`
	Link          string   `json:"link,omitempty"`
}

// NewGoogleBooksTool creates the book search tool. The API key is optional.
func NewGoogleBooksTool(cfg GoogleBooksConfig) *GoogleBooksTool {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGoogleBooksURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	return &GoogleBooksTool{cfg: cfg, client: newJSONClient(cfg.HTTP)}
}

// Name returns the tool name
func (t *GoogleBooksTool) Name() string {
	return "google_books"
}

// Description returns the tool description
func (t *GoogleBooksTool) Description() string {
	return "Search Google Books for books and publications on a topic."
}

// Execute runs the search
func (t *GoogleBooksTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("maxResults", fmt.Sprintf("%d", t.cfg.MaxResults))
	if t.cfg.APIKey != "" {
		params.Set("key", t.cfg.APIKey)
	}

	var resp volumesResponse
	if err := t.client.do(ctx, "GET", t.cfg.BaseURL+"/books/v1/volumes?"+params.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("google books search failed: %w", err)
	}
	if len(resp.Items) == 0 {
		return fmt.Sprintf("No books found for %q", query), nil
	}

	books := make([]Book, 0, len(resp.Items))
	for _, item := range resp.Items {
		info := item.VolumeInfo
		books = append(books, Book{
			Title:         info.Title,
			Authors:       info.Authors,
			Publisher:     info.Publisher,
			PublishedDate: info.PublishedDate,
			Description:   truncate(info.Description, 500),
			Link:          info.InfoLink,
		})
	}
	return books, nil
}

// Schema returns the tool's parameter schema
func (t *GoogleBooksTool) Schema() json.RawMessage {
	return SchemaFor[booksArgs]()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
