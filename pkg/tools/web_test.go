package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ncolesummers/research-chat-agent/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastHTTP(retries uint64) HTTPConfig {
	return HTTPConfig{Timeout: 2 * time.Second, MaxRetries: retries, InitialInterval: time.Millisecond}
}

func TestTavilyTool(t *testing.T) {
	var got tavilyRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{
				{"title": "One", "url": "https://one.example", "content": "first"},
				{"title": "Two", "url": "https://two.example", "content": "second"},
				{"title": "Three", "url": "https://three.example", "content": "third"},
			},
		})
	}))
	defer server.Close()

	tool, err := NewTavilyTool(TavilyConfig{APIKey: "key", BaseURL: server.URL, MaxResults: 2, HTTP: fastHTTP(0)})
	require.NoError(t, err)

	out, err := tool.Execute(testutil.NewTestContext(t), map[string]interface{}{"query": "go generics"})
	require.NoError(t, err)

	results, ok := out.([]TavilyResult)
	require.True(t, ok)
	assert.Len(t, results, 2)
	assert.Equal(t, "One", results[0].Title)
	assert.Equal(t, "go generics", got.Query)
	assert.Equal(t, SearchDepthBasic, got.SearchDepth)
	assert.Equal(t, 2, got.MaxResults)

	advanced := tool.WithSearchDepth(SearchDepthAdvanced)
	assert.Equal(t, SearchDepthAdvanced, advanced.SearchDepth())
	assert.Equal(t, SearchDepthBasic, tool.SearchDepth())
}

func TestTavilyToolConfig(t *testing.T) {
	_, err := NewTavilyTool(TavilyConfig{})
	assert.ErrorContains(t, err, "api key")

	_, err = NewTavilyTool(TavilyConfig{APIKey: "k", SearchDepth: "deep"})
	assert.ErrorContains(t, err, "search depth")
}

func TestJSONClientRetries(t *testing.T) {
	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"results":[]}`))
		}))
		defer server.Close()

		tool, err := NewTavilyTool(TavilyConfig{APIKey: "k", BaseURL: server.URL, HTTP: fastHTTP(3)})
		require.NoError(t, err)

		_, err = tool.Execute(testutil.NewTestContext(t), map[string]interface{}{"query": "q"})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are permanent", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		tool, err := NewTavilyTool(TavilyConfig{APIKey: "bad", BaseURL: server.URL, HTTP: fastHTTP(3)})
		require.NoError(t, err)

		_, err = tool.Execute(testutil.NewTestContext(t), map[string]interface{}{"query": "q"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestWikipediaTool(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/w/rest.php/v1/search/page", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(`{"pages":[{"key":"Go_language","title":"Go","description":"language"},{"key":"Gopher","title":"Gopher","description":"rodent"}]}`))
	})
	mux.HandleFunc("/api/rest_v1/page/summary/Go_language", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"Go","extract":"Go is a language.","content_urls":{"desktop":{"page":"https://en.wikipedia.org/wiki/Go"}}}`))
	})
	mux.HandleFunc("/api/rest_v1/page/summary/Gopher", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	tool := NewWikipediaTool(WikipediaConfig{BaseURL: server.URL, HTTP: fastHTTP(0)})
	out, err := tool.Execute(testutil.NewTestContext(t), map[string]interface{}{"query": "golang"})
	require.NoError(t, err)

	pages, ok := out.([]WikipediaPage)
	require.True(t, ok)
	require.Len(t, pages, 2)
	assert.Equal(t, "Go is a language.", pages[0].Summary)
	assert.Equal(t, "https://en.wikipedia.org/wiki/Go", pages[0].URL)
	// Falls back to the search description
	assert.Equal(t, "rodent", pages[1].Summary)
}

func TestGoogleBooksTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/books/v1/volumes", r.URL.Path)
		assert.Equal(t, "distributed systems", r.URL.Query().Get("q"))
		if r.URL.Query().Get("q") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"totalItems":1,"items":[{"volumeInfo":{"title":"Designing Data-Intensive Applications","authors":["Martin Kleppmann"],"publishedDate":"2017"}}]}`))
	}))
	defer server.Close()

	tool := NewGoogleBooksTool(GoogleBooksConfig{BaseURL: server.URL, HTTP: fastHTTP(0)})
	out, err := tool.Execute(testutil.NewTestContext(t), map[string]interface{}{"query": "distributed systems"})
	require.NoError(t, err)

	books, ok := out.([]Book)
	require.True(t, ok)
	require.Len(t, books, 1)
	assert.Equal(t, []string{"Martin Kleppmann"}, books[0].Authors)
	assert.Equal(t, "2017", books[0].PublishedDate)
}

func TestToolSchemas(t *testing.T) {
	tavily, err := NewTavilyTool(TavilyConfig{APIKey: "k"})
	require.NoError(t, err)

	for _, tool := range []interface {
		Name() string
		Schema() json.RawMessage
	}{tavily, NewWikipediaTool(WikipediaConfig{}), NewGoogleBooksTool(GoogleBooksConfig{}), NewThinkTool()} {
		t.Run(tool.Name(), func(t *testing.T) {
			var schema map[string]interface{}
			require.NoError(t, json.Unmarshal(tool.Schema(), &schema))
			assert.Equal(t, "object", schema["type"])
			assert.NotEmpty(t, schema["required"])

			assert.Error(t, ValidateArgs(tool.Name(), tool.Schema(), nil))
		})
	}
}

func TestThinkTool(t *testing.T) {
	think := NewThinkTool()
	out, err := think.Execute(testutil.NewTestContext(t), map[string]interface{}{"thought": "check sources"})
	require.NoError(t, err)
	assert.Equal(t, "Thought 1 recorded: check sources", out)
	assert.Equal(t, []string{"check sources"}, think.Thoughts())

	_, err = think.Execute(testutil.NewTestContext(t), map[string]interface{}{"thought": "  "})
	assert.Error(t, err)
}
