package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor_AgentInput(t *testing.T) {
	t.Parallel()

	s, err := For[AgentInput]()
	require.NoError(t, err)
	assert.Equal(t, "AgentInput", s.Name())

	m := s.Map()
	assert.Equal(t, "object", m["type"])
	assert.NotContains(t, m, "$schema")
	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "chat_message")
	assert.ElementsMatch(t, []any{"chat_message"}, m["required"])
}

func TestSchema_Validate(t *testing.T) {
	t.Parallel()

	s := MustFor[AgentInput]()

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{name: "valid", payload: `{"chat_message":"hi"}`},
		{name: "empty message", payload: `{"chat_message":""}`, wantErr: true},
		{name: "missing field", payload: `{}`, wantErr: true},
		{name: "wrong type", payload: `{"chat_message":5}`, wantErr: true},
		{name: "extra field", payload: `{"chat_message":"hi","x":1}`, wantErr: true},
		{name: "not json", payload: `{"chat_message":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Validate([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSchema_ValidateInvalidJSON(t *testing.T) {
	t.Parallel()

	err := MustFor[AgentOutput]().Validate([]byte("nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestSchema_ValidationErrorListsIssues(t *testing.T) {
	t.Parallel()

	err := MustFor[AgentOutput]().Validate([]byte(`{"response_message":1}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "AgentOutput", verr.Schema)
	require.NotEmpty(t, verr.Issues)
	assert.Contains(t, verr.Error(), "response_message")
}

func TestDecode_RunsValidator(t *testing.T) {
	t.Parallel()

	s := MustFor[DispatchOutput]()

	out, err := Decode[DispatchOutput](s, []byte(`{"action":"respond","direct_response":"hello"}`))
	require.NoError(t, err)
	assert.Equal(t, ActionRespond, out.Action)
	assert.Equal(t, "hello", out.DirectResponse)

	_, err = Decode[DispatchOutput](s, []byte(`{"action":"respond"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchAmbiguous)

	_, err = Decode[DispatchOutput](s, []byte(`{"action":"jump","direct_response":"x"}`))
	assert.Error(t, err)
}

func TestDispatchOutput_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		out     DispatchOutput
		wantErr string
	}{
		{
			name: "tool",
			out: DispatchOutput{
				Action:         ActionUseTool,
				ToolName:       "csv_order_reader",
				ToolParameters: map[string]any{"order_number": "ORD1001"},
			},
		},
		{
			name: "respond",
			out:  DispatchOutput{Action: ActionRespond, DirectResponse: "hi"},
		},
		{
			name:    "both",
			out:     DispatchOutput{Action: ActionRespond, ToolName: "x", DirectResponse: "hi"},
			wantErr: "both are set",
		},
		{
			name:    "neither",
			out:     DispatchOutput{Action: ActionRespond},
			wantErr: "neither is set",
		},
		{
			name:    "action disagrees",
			out:     DispatchOutput{Action: ActionUseTool, DirectResponse: "hi"},
			wantErr: "requires tool_name",
		},
		{
			name:    "parameters without name",
			out:     DispatchOutput{Action: ActionUseTool, ToolParameters: map[string]any{"a": 1}},
			wantErr: "requires tool_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.out.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFailed(t *testing.T) {
	t.Parallel()

	r := Failed("Tool '%s' not found.", "weather")
	assert.False(t, r.Success)
	assert.Equal(t, "Tool 'weather' not found.", r.ErrorMessage)
	assert.True(t, Succeeded().Success)
}

func TestFromType_RejectsNonStruct(t *testing.T) {
	t.Parallel()

	_, err := For[string]()
	assert.Error(t, err)
}
