package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/pkg/log"
)

var (
	// ErrToolNotFound is reported when the model names a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments is reported when arguments are not valid JSON or fail the input schema.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrExecution is reported when a tool returns an error or panics.
	ErrExecution = errors.New("tool execution failed")
)

// Tool defines the interface for tools that can be called by the agent
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON Schema for the tool's parameters
	Parameters() json.RawMessage

	// Execute runs the tool with raw JSON arguments and returns its JSON output.
	// Argument problems are reported by wrapping ErrInvalidArguments.
	Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Func is the body of a typed tool.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// TypedTool adapts a Func to the Tool interface. Arguments are validated
// against the schema reflected from In before the Func is invoked.
type TypedTool[In, Out any] struct {
	name        string
	description string
	input       *schema.Schema
	fn          Func[In, Out]
}

// New builds a typed tool whose parameter schema is reflected from In.
func New[In, Out any](name, description string, fn Func[In, Out]) (*TypedTool[In, Out], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q has no function", name)
	}
	input, err := schema.For[In]()
	if err != nil {
		return nil, fmt.Errorf("tool %q input schema: %w", name, err)
	}
	if description == "" {
		description = fmt.Sprintf("Executes the %s tool.", name)
	}
	return &TypedTool[In, Out]{
		name:        name,
		description: description,
		input:       input,
		fn:          fn,
	}, nil
}

// MustNew is New that panics on error.
func MustNew[In, Out any](name, description string, fn Func[In, Out]) *TypedTool[In, Out] {
	t, err := New(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *TypedTool[In, Out]) Name() string { return t.name }

func (t *TypedTool[In, Out]) Description() string { return t.description }

func (t *TypedTool[In, Out]) Parameters() json.RawMessage { return t.input.JSON() }

// InputSchema returns the compiled input schema.
func (t *TypedTool[In, Out]) InputSchema() *schema.Schema { return t.input }

// Run invokes the tool body directly with a typed input.
func (t *TypedTool[In, Out]) Run(ctx context.Context, in In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Tool %s panicked: %v\n%s", t.name, r, debug.Stack())
			err = fmt.Errorf("%w: panic: %v", ErrExecution, r)
		}
	}()
	out, err = t.fn(ctx, in)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrExecution, err)
	}
	return out, nil
}

func (t *TypedTool[In, Out]) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	in, err := schema.Decode[In](t.input, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}

	out, err := t.Run(ctx, in)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: encode output: %w", ErrExecution, err)
	}
	return data, nil
}
