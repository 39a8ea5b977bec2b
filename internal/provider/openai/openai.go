// Package openai is a provider on the official OpenAI Go SDK.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/provider"
)

const (
	Name         = "openai"
	DefaultModel = oai.ChatModelGPT4oMini
)

// Config selects the model and sampling parameters. A zero MaxTokens or a
// negative Temperature leaves the backend default.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

type Provider struct {
	client oai.Client
	cfg    Config
}

var _ provider.Provider = (*Provider)(nil)

// New builds a provider. SDK retries are disabled; backend errors reach the
// caller on the first failure.
func New(cfg Config, opts ...option.RequestOption) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s provider: API key is required", Name)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	return &Provider{client: oai.NewClient(reqOpts...), cfg: cfg}, nil
}

// Client exposes the SDK client so embeddings can share the connection setup.
func (p *Provider) Client() oai.Client {
	return p.client
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", Name, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%s provider: %w", Name, llm.ErrNoChoices)
	}

	choice := completion.Choices[0].Message
	ret := &provider.Response{
		Message: llm.Message{Role: llm.RoleAssistant, Content: choice.Content},
		Model:   completion.Model,
		Usage: provider.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.ToolCalls {
		if tc.Type != "" && tc.Type != "function" {
			continue
		}
		ret.ToolCalls = append(ret.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if len(ret.ToolCalls) > 0 {
		ret.Message.ToolCalls = ret.ToolCalls
		return ret, nil
	}
	if choice.Refusal != "" && choice.Content == "" {
		return nil, fmt.Errorf("%s provider: model refused: %s", Name, choice.Refusal)
	}
	ret.Output = provider.FinalOutput(choice.Content, req.OutputSchema != nil)
	return ret, nil
}

func (p *Provider) buildParams(req provider.Request) (oai.ChatCompletionNewParams, error) {
	messages, err := toMessages(req.Messages)
	if err != nil {
		return oai.ChatCompletionNewParams{}, err
	}

	params := oai.ChatCompletionNewParams{
		Model:    p.cfg.Model,
		Messages: messages,
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.MaxTokens))
	}
	if p.cfg.Temperature >= 0 {
		params.Temperature = param.NewOpt(p.cfg.Temperature)
	}

	if choice := req.EffectiveToolChoice(); choice != "" {
		tools := make([]oai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			parameters := oai.FunctionParameters{}
			if len(def.Function.Parameters) > 0 {
				if err := json.Unmarshal(def.Function.Parameters, &parameters); err != nil {
					return oai.ChatCompletionNewParams{}, fmt.Errorf("tool %s parameters: %w", def.Function.Name, err)
				}
			}
			fn := oai.FunctionDefinitionParam{
				Name:       def.Function.Name,
				Parameters: parameters,
			}
			if def.Function.Description != "" {
				fn.Description = param.NewOpt(def.Function.Description)
			}
			tools = append(tools, oai.ChatCompletionFunctionTool(fn))
		}
		params.Tools = tools
		params.ToolChoice = oai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: param.NewOpt(string(choice))}
	}

	if req.OutputSchema != nil {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &oai.ResponseFormatJSONSchemaParam{
				JSONSchema: oai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.OutputSchema.Name(),
					Schema: req.OutputSchema.Map(),
					Strict: param.NewOpt(false),
				},
			},
		}
	}
	return params, nil
}

func toMessages(msgs []llm.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case llm.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case llm.RoleTool:
			out = append(out, oai.ToolMessage(m.Content, m.ToolCallID))
		case llm.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, oai.AssistantMessage(m.Content))
				continue
			}
			assistant := oai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				assistant.Content = oai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(m.Content)}
			}
			for _, tc := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, oai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &oai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: oai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}
			out = append(out, oai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	return out, nil
}
