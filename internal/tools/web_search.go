package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const (
	WebSearchName = "web_search"

	defaultTavilyURL       = "https://api.tavily.com/search"
	defaultSearchResults   = 5
	maxSearchResults       = 10
	maxSearchSnippetLength = 500
)

type WebSearchInput struct {
	Query      string `json:"query" jsonschema:"minLength=1,description=The search query. Be specific."`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10,description=How many results to return (default 5)."`
	Depth      string `json:"search_depth,omitempty" jsonschema:"enum=basic,enum=advanced,description=basic is faster; advanced digs deeper."`
}

type WebSearchOutput struct {
	schema.ToolResult
	Query   string            `json:"query,omitempty"`
	Answer  string            `json:"answer,omitempty"`
	Results []WebSearchResult `json:"results,omitempty"`
}

type WebSearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// tavilyRequest represents a request to Tavily API
type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth,omitempty"`
	IncludeAnswer bool   `json:"include_answer,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// tavilyResponse represents a response from Tavily API
type tavilyResponse struct {
	Query   string            `json:"query"`
	Answer  string            `json:"answer,omitempty"`
	Results []WebSearchResult `json:"results"`
}

type webSearcher struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewWebSearch returns a tool that searches the web through the Tavily API.
// An empty apiURL uses the public endpoint.
func NewWebSearch(apiKey, apiURL string) *TypedTool[WebSearchInput, WebSearchOutput] {
	if apiURL == "" {
		apiURL = defaultTavilyURL
	}
	s := &webSearcher{
		apiKey: apiKey,
		apiURL: apiURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	return MustNew(WebSearchName,
		"Searches the web and returns a short answer with the most relevant pages. Use it for facts that may be newer than your knowledge.",
		s.run)
}

func (s *webSearcher) run(ctx context.Context, in WebSearchInput) (WebSearchOutput, error) {
	if s.apiKey == "" {
		return WebSearchOutput{ToolResult: schema.Failed("Web search is not configured.")}, nil
	}

	resp, err := s.search(ctx, in)
	if err != nil {
		return WebSearchOutput{ToolResult: schema.Failed("Search failed: %v", err)}, nil
	}

	for i := range resp.Results {
		if r := []rune(resp.Results[i].Content); len(r) > maxSearchSnippetLength {
			resp.Results[i].Content = string(r[:maxSearchSnippetLength]) + "..."
		}
	}

	return WebSearchOutput{
		ToolResult: schema.Succeeded(),
		Query:      resp.Query,
		Answer:     resp.Answer,
		Results:    resp.Results,
	}, nil
}

func (s *webSearcher) search(ctx context.Context, in WebSearchInput) (*tavilyResponse, error) {
	request := tavilyRequest{
		APIKey:        s.apiKey,
		Query:         in.Query,
		SearchDepth:   in.Depth,
		IncludeAnswer: true,
		MaxResults:    in.MaxResults,
	}
	if request.SearchDepth == "" {
		request.SearchDepth = "basic"
	}
	if request.MaxResults <= 0 {
		request.MaxResults = defaultSearchResults
	}
	if request.MaxResults > maxSearchResults {
		request.MaxResults = maxSearchResults
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	var tavilyResp tavilyResponse
	if err := json.Unmarshal(body, &tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &tavilyResp, nil
}
