// Package compat is a provider for any endpoint speaking the OpenAI chat
// completions dialect, over the raw HTTP client in internal/llm.
package compat

import (
	"context"
	"fmt"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/provider"
)

const Name = "compat"

type Provider struct {
	client *llm.Client
}

var _ provider.Provider = (*Provider)(nil)

func New(client *llm.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	opts := llm.NewChatCompletionOptions().WithToolChoice(string(req.EffectiveToolChoice()))
	if req.OutputSchema != nil {
		opts = opts.WithJSONSchema(req.OutputSchema.Name(), req.OutputSchema.JSON())
	}

	resp, err := p.client.ChatCompletionWithTools(ctx, req.Messages, req.Tools, opts)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", Name, err)
	}

	msg := resp.Choices[0].Message
	msg.Role = llm.RoleAssistant
	ret := &provider.Response{
		Message: msg,
		Model:   resp.Model,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if len(msg.ToolCalls) > 0 {
		ret.ToolCalls = msg.ToolCalls
		return ret, nil
	}
	ret.Output = provider.FinalOutput(msg.Content, req.OutputSchema != nil)
	return ret, nil
}
