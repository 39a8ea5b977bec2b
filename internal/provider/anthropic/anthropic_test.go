package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/schema"
)

func newTestProvider(t *testing.T, requests *[]messageRequest, responses ...string) *Provider {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))

		var req messageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*requests = append(*requests, req)

		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responses[i]))
	}))
	t.Cleanup(server.Close)

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL + "/", Model: "claude-test"})
	require.NoError(t, err)
	return p
}

func calculatorDef() llm.ToolDefinition {
	return llm.ToolDefinition{Type: "function", Function: llm.Function{
		Name:        "calculator",
		Description: "Performs basic arithmetic.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"operand1":{"type":"number"}}}`),
	}}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)

	p, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, p.cfg.BaseURL)
	assert.Equal(t, DefaultModel, p.cfg.Model)
	assert.Equal(t, defaultMaxTokens, p.cfg.MaxTokens)
}

func TestGenerate_ToolUseThenFinalOutput(t *testing.T) {
	t.Parallel()

	var requests []messageRequest
	p := newTestProvider(t, &requests,
		`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","stop_reason":"tool_use",
		  "content":[
			{"type":"text","text":"Let me calculate."},
			{"type":"tool_use","id":"toolu_1","name":"calculator","input":{"operand1":5,"operand2":3,"operator":"*"}}
		  ],
		  "usage":{"input_tokens":40,"output_tokens":12}}`,
		`{"id":"msg_2","type":"message","role":"assistant","model":"claude-test","stop_reason":"tool_use",
		  "content":[{"type":"tool_use","id":"toolu_2","name":"final_output","input":{"response_message":"15"}}],
		  "usage":{"input_tokens":60,"output_tokens":8}}`,
	)

	outSchema := schema.MustFor[schema.AgentOutput]()
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a calculator."},
		{Role: llm.RoleUser, Content: "What is 5*3?"},
	}

	first, err := p.Generate(context.Background(), provider.Request{
		Messages:     messages,
		OutputSchema: outSchema,
		Tools:        []llm.ToolDefinition{calculatorDef()},
		ToolChoice:   provider.ToolChoiceAuto,
	})
	require.NoError(t, err)
	require.True(t, first.HasToolCalls())
	assert.Equal(t, "toolu_1", first.ToolCalls[0].ID)
	assert.Equal(t, "calculator", first.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"operand1":5,"operand2":3,"operator":"*"}`, first.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "Let me calculate.", first.Message.Content)
	assert.Equal(t, 52, first.Usage.TotalTokens)

	require.Len(t, requests, 1)
	req := requests[0]
	assert.Equal(t, "claude-test", req.Model)
	assert.Equal(t, "You are a calculator.", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	require.Len(t, req.Tools, 2)
	assert.Equal(t, "calculator", req.Tools[0].Name)
	assert.Equal(t, FinalOutputTool, req.Tools[1].Name)
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, "any", req.ToolChoice.Type)

	messages = append(messages, first.Message,
		llm.Message{Role: llm.RoleTool, ToolCallID: "toolu_1", Content: `{"success":true,"result":15}`},
	)
	second, err := p.Generate(context.Background(), provider.Request{
		Messages:     messages,
		OutputSchema: outSchema,
		Tools:        []llm.ToolDefinition{calculatorDef()},
		ToolChoice:   provider.ToolChoiceNone,
	})
	require.NoError(t, err)
	assert.False(t, second.HasToolCalls())
	assert.JSONEq(t, `{"response_message":"15"}`, string(second.Output))

	require.Len(t, requests, 2)
	req = requests[1]
	require.NotNil(t, req.ToolChoice)
	assert.Equal(t, "tool", req.ToolChoice.Type)
	assert.Equal(t, FinalOutputTool, req.ToolChoice.Name)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "tool_use", req.Messages[1].Content[1].Type)
	result := req.Messages[2].Content[0]
	assert.Equal(t, "tool_result", result.Type)
	assert.Equal(t, "toolu_1", result.ToolUseID)
	assert.False(t, result.IsError)
}

func TestGenerate_PlainTextWithoutSchema(t *testing.T) {
	t.Parallel()

	var requests []messageRequest
	p := newTestProvider(t, &requests,
		`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","stop_reason":"end_turn",
		  "content":[{"type":"text","text":"Hello there"}],"usage":{"input_tokens":5,"output_tokens":2}}`,
	)

	resp, err := p.Generate(context.Background(), provider.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"Hello there"`, string(resp.Output))
	assert.Nil(t, requests[0].ToolChoice)
	assert.Empty(t, requests[0].Tools)
}

func TestGenerate_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"Rate limited"}}`))
	}))
	t.Cleanup(server.Close)

	p, err := New(Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), provider.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
}

func TestGenerate_EmptyContent(t *testing.T) {
	t.Parallel()

	var requests []messageRequest
	p := newTestProvider(t, &requests,
		`{"id":"msg_1","type":"message","role":"assistant","stop_reason":"max_tokens","content":[]}`,
	)
	_, err := p.Generate(context.Background(), provider.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, provider.ErrNoOutput)
}

func TestToMessages_FoldsToolResults(t *testing.T) {
	t.Parallel()

	system, msgs, err := toMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "one"},
		{Role: llm.RoleSystem, Content: "two"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "a", Function: llm.FunctionCall{Name: "x", Arguments: `{"q":1}`}},
			{ID: "b", Function: llm.FunctionCall{Name: "y", Arguments: `not json`}},
		}},
		{Role: llm.RoleTool, ToolCallID: "a", Content: `{"success":true}`},
		{Role: llm.RoleTool, ToolCallID: "b", Content: `{"success":false,"error_message":"Tool 'y' not found."}`},
	})
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo", system)
	require.Len(t, msgs, 3)
	assert.JSONEq(t, `{}`, string(msgs[1].Content[1].Input))

	results := msgs[2].Content
	require.Len(t, results, 2)
	assert.False(t, results[0].IsError)
	assert.True(t, results[1].IsError)

	_, _, err = toMessages([]llm.Message{{Role: "narrator"}})
	assert.Error(t, err)
}
