package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// ErrNoChoices is returned when a completion carries no choices.
var ErrNoChoices = errors.New("no choices in response")

// Client talks to an OpenAI-compatible HTTP API. It makes exactly one HTTP
// request per call and never retries. Safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient validates config and returns a client for it.
//
//	client, err := llm.NewClient(&llm.Config{APIKey: key, APIURL: url, Model: "openai/gpt-4o-mini", MaxTokens: 1000, Timeout: 30})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:     config,
		baseURL:    strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{Timeout: config.timeout()},
	}, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string {
	return c.config.Model
}

// ChatCompletion sends messages without tools.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message, opts *ChatCompletionOptions) (*ChatResponse, error) {
	return c.ChatCompletionWithTools(ctx, messages, nil, opts)
}

// ChatCompletionWithTools sends a chat completion that may include tool
// definitions. ToolChoice from opts is only sent when tools are present.
func (c *Client) ChatCompletionWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts *ChatCompletionOptions) (*ChatResponse, error) {
	if opts == nil {
		opts = NewChatCompletionOptions()
	}

	if opts.SystemPrompt != "" {
		messages = append([]Message{{Role: RoleSystem, Content: opts.SystemPrompt}}, messages...)
	}

	request := ChatRequest{
		Model:          c.config.Model,
		Messages:       messages,
		MaxTokens:      c.config.MaxTokens,
		Temperature:    c.config.Temperature,
		ResponseFormat: opts.ResponseFormat,
	}
	if opts.MaxTokens > 0 {
		request.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature >= 0 && opts.Temperature <= 2 {
		request.Temperature = opts.Temperature
	}
	if len(tools) > 0 {
		request.Tools = tools
		request.ToolChoice = opts.ToolChoice
	}

	var response ChatResponse
	if err := c.post(ctx, "/chat/completions", request, &response); err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("chat completion failed: %w", ErrNoChoices)
	}
	return &response, nil
}

// Embeddings returns one vector per input text, in input order.
// An empty model falls back to Config.EmbeddingModel.
func (c *Client) Embeddings(ctx context.Context, model string, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = c.config.EmbeddingModel
	}

	var response EmbeddingResponse
	if err := c.post(ctx, "/embeddings", EmbeddingRequest{Model: model, Input: texts}, &response); err != nil {
		return nil, fmt.Errorf("embeddings failed: %w", err)
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings failed: got %d vectors for %d inputs", len(response.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for i, d := range response.Data {
		idx := d.Index
		if idx < 0 || idx >= len(texts) {
			idx = i
		}
		vectors[idx] = d.Embedding
	}
	return vectors, nil
}

// apiResponse is a decoded body that may carry an error object.
type apiResponse interface {
	apiError() *Error
}

func (r *ChatResponse) apiError() *Error      { return r.Error }
func (r *EmbeddingResponse) apiError() *Error { return r.Error }

// post sends payload as JSON and decodes the reply into out. An error object
// in the body wins over the HTTP status; a non-2xx status with no usable body
// is reported with the raw text.
func (c *Client) post(ctx context.Context, path string, payload any, out apiResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.config.setHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if err := json.Unmarshal(body, out); err != nil {
		if !ok {
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, body)
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if apiErr := out.apiError(); apiErr != nil && apiErr.Message != "" {
		return fmt.Errorf("status %d: %w", resp.StatusCode, apiErr)
	}
	if !ok {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, body)
	}
	return nil
}
