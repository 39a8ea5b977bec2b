package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/llm"
)

type echoInput struct {
	Text string `json:"text" jsonschema:"minLength=1"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

// rawTool implements Tool without the typed helper.
type rawTool struct {
	name   string
	params string
	run    func(args json.RawMessage) (json.RawMessage, error)
}

func (r rawTool) Name() string                { return r.name }
func (r rawTool) Description() string         { return "raw " + r.name }
func (r rawTool) Parameters() json.RawMessage { return json.RawMessage(r.params) }
func (r rawTool) Execute(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
	return r.run(args)
}

func call(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Type: "function", Function: llm.FunctionCall{Name: name, Arguments: args}}
}

func decodeResult(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, err := NewRegistry(NewCalculator(), NewLanguageDetector())
	require.NoError(t, err)

	assert.Equal(t, 2, reg.Count())
	assert.Equal(t, []string{CalculatorName, LanguageDetectName}, reg.Names())

	tool, ok := reg.Get(CalculatorName)
	require.True(t, ok)
	assert.Equal(t, CalculatorName, tool.Name())

	_, ok = reg.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_DuplicateName(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	err = reg.Register(NewCalculator())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	_, err = NewRegistry(NewCalculator(), NewCalculator())
	assert.Error(t, err)
}

func TestRegistry_RejectsBadRawSchema(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	err = reg.Register(rawTool{name: "broken", params: `not json`})
	assert.Error(t, err)
	assert.Equal(t, 0, reg.Count())
}

func TestRegistry_NilIsEmpty(t *testing.T) {
	var reg *Registry
	assert.Equal(t, 0, reg.Count())
	assert.Nil(t, reg.Definitions())
	_, ok := reg.Get(CalculatorName)
	assert.False(t, ok)
}

func TestRegistry_Definitions(t *testing.T) {
	reg, err := NewRegistry(NewLanguageDetector(), NewCalculator())
	require.NoError(t, err)

	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, CalculatorName, defs[0].Function.Name)
	assert.Equal(t, LanguageDetectName, defs[1].Function.Name)
	assert.Equal(t, "function", defs[0].Type)
	assert.NotEmpty(t, defs[0].Function.Description)

	var params map[string]any
	require.NoError(t, json.Unmarshal(defs[0].Function.Parameters, &params))
	assert.Equal(t, "object", params["type"])
	assert.ElementsMatch(t, []any{"operand1", "operand2", "operator"}, params["required"])
}

func TestRegistry_Resolve(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	tests := []struct {
		name  string
		found bool
	}{
		{"calculator", true},
		{"functions.calculator", true},
		{"default_api:calculator", true},
		{"tools/calculator", true},
		{"calculator.", false},
		{"calc", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, ok := reg.Resolve(tt.name)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, CalculatorName, tool.Name())
			}
		})
	}
}

func TestRegistry_Execute_Success(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("call_1", "calculator", `{"operand1":6,"operand2":7,"operator":"*"}`))

	assert.True(t, exec.Success)
	assert.NoError(t, exec.Err)
	assert.Equal(t, "call_1", exec.CallID)
	assert.Equal(t, CalculatorName, exec.Resolved)

	out := decodeResult(t, exec.Output)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 42.0, out["result"])
}

func TestRegistry_Execute_QualifiedName(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "functions.calculator", `{"operand1":1,"operand2":2,"operator":"+"}`))
	assert.True(t, exec.Success)
	assert.Equal(t, "functions.calculator", exec.Requested)
	assert.Equal(t, CalculatorName, exec.Resolved)
}

func TestRegistry_Execute_UnknownTool(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "nonexistent", `{}`))

	assert.False(t, exec.Success)
	assert.ErrorIs(t, exec.Err, ErrToolNotFound)
	out := decodeResult(t, exec.Output)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "Tool 'nonexistent' not found.", out["error_message"])
}

func TestRegistry_Execute_InvalidArguments(t *testing.T) {
	ran := false
	tool := MustNew("echo", "echoes", func(_ context.Context, in echoInput) (echoOutput, error) {
		ran = true
		return echoOutput{Echo: in.Text}, nil
	})
	reg, err := NewRegistry(tool)
	require.NoError(t, err)

	tests := []struct {
		name string
		args string
	}{
		{"malformed json", `{"text":`},
		{"missing field", `{}`},
		{"wrong type", `{"text":5}`},
		{"empty text", `{"text":""}`},
		{"unknown field", `{"text":"a","extra":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := reg.Execute(context.Background(), call("c", "echo", tt.args))
			assert.False(t, exec.Success)
			assert.ErrorIs(t, exec.Err, ErrInvalidArguments)
			out := decodeResult(t, exec.Output)
			assert.Contains(t, out["error_message"], "Invalid arguments provided: ")
		})
	}
	assert.False(t, ran, "tool body must not run on invalid arguments")
}

func TestRegistry_Execute_EmptyArgumentsTreatedAsObject(t *testing.T) {
	tool := rawTool{
		name:   "ping",
		params: `{"type":"object","properties":{}}`,
		run: func(args json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"pong":true}`), nil
		},
	}
	reg, err := NewRegistry(tool)
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "ping", ""))
	assert.True(t, exec.Success)
	assert.JSONEq(t, `{"pong":true}`, string(exec.Output))
}

func TestRegistry_Execute_ToolError(t *testing.T) {
	tool := MustNew("explode", "", func(_ context.Context, in echoInput) (echoOutput, error) {
		return echoOutput{}, errors.New("disk on fire")
	})
	reg, err := NewRegistry(tool)
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "explode", `{"text":"x"}`))
	assert.False(t, exec.Success)
	assert.ErrorIs(t, exec.Err, ErrExecution)
	out := decodeResult(t, exec.Output)
	assert.Equal(t, "Tool execution failed: disk on fire", out["error_message"])
}

func TestRegistry_Execute_Panic(t *testing.T) {
	typed := MustNew("typed_panic", "", func(_ context.Context, in echoInput) (echoOutput, error) {
		panic("boom")
	})
	raw := rawTool{
		name:   "raw_panic",
		params: `{"type":"object"}`,
		run: func(json.RawMessage) (json.RawMessage, error) {
			panic("kaboom")
		},
	}
	reg, err := NewRegistry(typed, raw)
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "typed_panic", `{"text":"x"}`))
	assert.False(t, exec.Success)
	assert.ErrorIs(t, exec.Err, ErrExecution)
	assert.Contains(t, decodeResult(t, exec.Output)["error_message"], "panic: boom")

	exec = reg.Execute(context.Background(), call("c", "raw_panic", `{}`))
	assert.False(t, exec.Success)
	assert.Contains(t, decodeResult(t, exec.Output)["error_message"], "panic: kaboom")
}

func TestRegistry_Execute_NonJSONOutput(t *testing.T) {
	tool := rawTool{
		name:   "garbage",
		params: `{"type":"object"}`,
		run: func(json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`not json`), nil
		},
	}
	reg, err := NewRegistry(tool)
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "garbage", `{}`))
	assert.False(t, exec.Success)
	assert.Equal(t, "Tool execution failed: output is not valid JSON", decodeResult(t, exec.Output)["error_message"])
}

func TestRegistry_Execute_ReportedFailure(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	exec := reg.Execute(context.Background(), call("c", "calculator", `{"operand1":1,"operand2":0,"operator":"/"}`))
	assert.False(t, exec.Success)
	assert.NoError(t, exec.Err)
	assert.Equal(t, "Division by zero is not allowed.", decodeResult(t, exec.Output)["error_message"])
}

func TestRegistry_ConcurrentExecute(t *testing.T) {
	reg, err := NewRegistry(NewCalculator())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			exec := reg.Execute(context.Background(), call("c", "calculator", `{"operand1":2,"operand2":3,"operator":"+"}`))
			assert.True(t, exec.Success)
		}()
	}
	wg.Wait()
}
