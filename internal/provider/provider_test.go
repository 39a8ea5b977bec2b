package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/llm"
)

func TestRequest_Validate(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	tools := []llm.ToolDefinition{{Type: "function", Function: llm.Function{Name: "calculator"}}}

	assert.ErrorIs(t, Request{}.Validate(), ErrEmptyPrompt)
	assert.NoError(t, Request{Messages: msgs}.Validate())
	assert.NoError(t, Request{Messages: msgs, Tools: tools, ToolChoice: ToolChoiceNone}.Validate())
	assert.Error(t, Request{Messages: msgs, ToolChoice: "sometimes"}.Validate())
	assert.Error(t, Request{Messages: msgs, ToolChoice: ToolChoiceRequired}.Validate())
}

func TestRequest_EffectiveToolChoice(t *testing.T) {
	t.Parallel()

	tools := []llm.ToolDefinition{{Type: "function", Function: llm.Function{Name: "calculator"}}}

	assert.Equal(t, ToolChoice(""), Request{ToolChoice: ToolChoiceNone}.EffectiveToolChoice())
	assert.Equal(t, ToolChoiceAuto, Request{Tools: tools}.EffectiveToolChoice())
	assert.Equal(t, ToolChoiceNone, Request{Tools: tools, ToolChoice: ToolChoiceNone}.EffectiveToolChoice())
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
		ok      bool
	}{
		{"plain object", `{"response_message":"15"}`, `{"response_message":"15"}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`, true},
		{"surrounded by prose", "Sure! {\"a\":1} Hope that helps.", `{"a":1}`, true},
		{"not json", "fifteen", "", false},
		{"empty", "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.content)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.JSONEq(t, tt.want, string(got))
			}
		})
	}
}

func TestFinalOutput(t *testing.T) {
	t.Parallel()

	assert.JSONEq(t, `"plain text"`, string(FinalOutput("plain text", false)))
	assert.JSONEq(t, `{"a":1}`, string(FinalOutput("```json\n{\"a\":1}\n```", true)))
	assert.Equal(t, "not json", string(FinalOutput("not json", true)))
}

func TestResponse_HasToolCalls(t *testing.T) {
	t.Parallel()

	var nilResp *Response
	assert.False(t, nilResp.HasToolCalls())
	assert.False(t, (&Response{}).HasToolCalls())
	assert.True(t, (&Response{ToolCalls: []llm.ToolCall{{ID: "1"}}}).HasToolCalls())
}
