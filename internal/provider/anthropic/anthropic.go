// Package anthropic is a provider over the Anthropic Messages HTTP API.
//
// Structured output is requested through a synthetic final_output tool whose
// input schema is the output schema; its input becomes the response Output.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/provider"
)

const (
	Name             = "anthropic"
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-5-haiku-latest"
	APIVersion       = "2023-06-01"
	FinalOutputTool  = "final_output"
	defaultMaxTokens = 1024
	defaultTimeout   = 60 * time.Second
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type Provider struct {
	cfg        Config
	httpClient *http.Client
}

var _ provider.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s provider: API key is required", Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Provider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := p.buildRequest(req)
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := p.post(ctx, "/v1/messages", body, &resp); err != nil {
		return nil, fmt.Errorf("%s provider: %w", Name, err)
	}
	return toResponse(resp, req.OutputSchema != nil)
}

func (p *Provider) buildRequest(req provider.Request) (messageRequest, error) {
	system, messages, err := toMessages(req.Messages)
	if err != nil {
		return messageRequest{}, err
	}
	if len(messages) == 0 {
		return messageRequest{}, fmt.Errorf("%w: only system messages given", provider.ErrEmptyPrompt)
	}

	out := messageRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    system,
		Messages:  messages,
	}
	if p.cfg.Temperature >= 0 {
		temp := min(p.cfg.Temperature, 1)
		out.Temperature = &temp
	}

	for _, def := range req.Tools {
		params := def.Function.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, toolParam{
			Name:        def.Function.Name,
			Description: def.Function.Description,
			InputSchema: params,
		})
	}

	structured := req.OutputSchema != nil
	if structured {
		out.Tools = append(out.Tools, toolParam{
			Name:        FinalOutputTool,
			Description: "Return the final answer to the user in the required structure.",
			InputSchema: req.OutputSchema.JSON(),
		})
	}

	switch choice := req.EffectiveToolChoice(); {
	case choice == provider.ToolChoiceNone && structured:
		out.ToolChoice = &toolChoice{Type: "tool", Name: FinalOutputTool}
	case choice == provider.ToolChoiceNone:
		out.ToolChoice = &toolChoice{Type: "none"}
	case choice == provider.ToolChoiceRequired:
		out.ToolChoice = &toolChoice{Type: "any"}
	case structured && choice == "":
		out.ToolChoice = &toolChoice{Type: "tool", Name: FinalOutputTool}
	case structured:
		// either a real tool or the final answer
		out.ToolChoice = &toolChoice{Type: "any"}
	case choice == provider.ToolChoiceAuto:
		out.ToolChoice = &toolChoice{Type: "auto"}
	}
	return out, nil
}

// toMessages lifts system messages into the system prompt and folds
// consecutive messages of the same role into one, as the API requires
// alternating turns. Tool results travel as user content.
func toMessages(msgs []llm.Message) (string, []message, error) {
	var system []string
	var out []message

	appendBlocks := func(role string, blocks ...contentBlock) {
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, message{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
		case llm.RoleUser:
			appendBlocks("user", contentBlock{Type: "text", Text: m.Content})
		case llm.RoleAssistant:
			blocks := make([]contentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
			}
			if len(blocks) == 0 {
				continue
			}
			appendBlocks("assistant", blocks...)
		case llm.RoleTool:
			appendBlocks("user", contentBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
				IsError:   !reportsSuccess(m.Content),
			})
		default:
			return "", nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return strings.Join(system, "\n\n"), out, nil
}

func toResponse(resp messageResponse, structured bool) (*provider.Response, error) {
	ret := &provider.Response{
		Message: llm.Message{Role: llm.RoleAssistant},
		Model:   resp.Model,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			if block.Name == FinalOutputTool {
				ret.Output = block.Input
				continue
			}
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			ret.ToolCalls = append(ret.ToolCalls, llm.ToolCall{
				ID:       block.ID,
				Type:     "function",
				Function: llm.FunctionCall{Name: block.Name, Arguments: args},
			})
		}
	}
	ret.Message.Content = strings.Join(text, "\n")

	// a real tool request wins over a final_output emitted in the same turn
	if len(ret.ToolCalls) > 0 {
		ret.Output = nil
		ret.Message.ToolCalls = ret.ToolCalls
		return ret, nil
	}
	if ret.Output != nil {
		return ret, nil
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("%s provider: %w (stop reason %q)", Name, provider.ErrNoOutput, resp.StopReason)
	}
	ret.Output = provider.FinalOutput(ret.Message.Content, structured)
	return ret, nil
}

func (p *Provider) post(ctx context.Context, path string, payload any, out *messageResponse) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", APIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		out.Error.StatusCode = resp.StatusCode
		return out.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// reportsSuccess reads the success flag of a tool result, treating
// anything without one as a success.
func reportsSuccess(content string) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal([]byte(content), &probe); err != nil || probe.Success == nil {
		return true
	}
	return *probe.Success
}
