package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/pkg/log"
)

// Registry manages available tools for the agent
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*schema.Schema
}

// Execution is the outcome of running one tool call. Output is always a JSON
// object suitable for a tool message, whether or not the tool ran.
type Execution struct {
	CallID    string
	Requested string
	Resolved  string
	Arguments string
	Output    json.RawMessage
	Success   bool
	Err       error
}

type schemaProvider interface {
	InputSchema() *schema.Schema
}

// NewRegistry creates a new tool registry
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*schema.Schema),
	}
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool to the registry
// Returns an error if a tool with the same name already exists
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name is required")
	}

	var compiled *schema.Schema
	if sp, ok := tool.(schemaProvider); ok {
		compiled = sp.InputSchema()
	} else {
		var doc map[string]any
		if err := json.Unmarshal(tool.Parameters(), &doc); err != nil {
			return fmt.Errorf("tool %q parameters: %w", name, err)
		}
		s, err := schema.Compile(name, doc)
		if err != nil {
			return fmt.Errorf("tool %q parameters: %w", name, err)
		}
		compiled = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	r.tools[name] = tool
	r.schemas[name] = compiled
	return nil
}

// Get retrieves a tool by exact name
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Resolve finds a tool by the name a provider returned. Backends sometimes
// qualify names ("functions.calculator", "default_api:calculator"), so when
// there is no exact match the leading qualifier is stripped.
func (r *Registry) Resolve(name string) (Tool, bool) {
	if tool, ok := r.Get(name); ok {
		return tool, true
	}
	if i := strings.LastIndexAny(name, ".:/"); i >= 0 && i < len(name)-1 {
		return r.Get(name[i+1:])
	}
	return nil, false
}

// Names returns all registered tool names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions converts all registered tools to OpenAI tool definition
// format, sorted by name so prompts are stable.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r == nil {
		return nil
	}
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		definitions = append(definitions, llm.ToolDefinition{
			Type: "function",
			Function: llm.Function{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  tool.Parameters(),
			},
		})
	}
	return definitions
}

// Execute resolves and runs one tool call. It never returns an error: every
// failure is folded into a {"success":false,"error_message":...} output.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall) Execution {
	exec := Execution{
		CallID:    call.ID,
		Requested: call.Function.Name,
		Arguments: call.Function.Arguments,
	}

	tool, ok := r.Resolve(call.Function.Name)
	if !ok {
		return exec.fail(fmt.Errorf("%w: %s", ErrToolNotFound, call.Function.Name),
			fmt.Sprintf("Tool '%s' not found.", call.Function.Name))
	}
	exec.Resolved = tool.Name()

	args := json.RawMessage(call.Function.Arguments)
	if strings.TrimSpace(call.Function.Arguments) == "" {
		args = json.RawMessage(`{}`)
	}

	r.mu.RLock()
	compiled := r.schemas[exec.Resolved]
	r.mu.RUnlock()

	if err := compiled.Validate(args); err != nil {
		return exec.fail(fmt.Errorf("%w: %w", ErrInvalidArguments, err),
			fmt.Sprintf("Invalid arguments provided: %v", err))
	}

	output, err := safeExecute(ctx, tool, args)
	if err != nil {
		if errors.Is(err, ErrInvalidArguments) {
			return exec.fail(err, "Invalid arguments provided: "+strings.TrimPrefix(err.Error(), ErrInvalidArguments.Error()+": "))
		}
		return exec.fail(err, "Tool execution failed: "+strings.TrimPrefix(err.Error(), ErrExecution.Error()+": "))
	}
	if !json.Valid(output) {
		return exec.fail(fmt.Errorf("%w: output is not JSON", ErrExecution), "Tool execution failed: output is not valid JSON")
	}

	exec.Output = output
	exec.Success = reportsSuccess(output)
	return exec
}

func (e Execution) fail(err error, message string) Execution {
	log.Warn("Tool call %s (%s) failed: %v", e.CallID, e.Requested, err)
	data, _ := json.Marshal(schema.Failed("%s", message))
	e.Output = data
	e.Success = false
	e.Err = err
	return e
}

func safeExecute(ctx context.Context, tool Tool, args json.RawMessage) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Tool %s panicked: %v\n%s", tool.Name(), r, debug.Stack())
			err = fmt.Errorf("%w: panic: %v", ErrExecution, r)
		}
	}()
	out, err = tool.Execute(ctx, args)
	if err != nil && !errors.Is(err, ErrInvalidArguments) && !errors.Is(err, ErrExecution) {
		err = fmt.Errorf("%w: %w", ErrExecution, err)
	}
	return out, err
}

// reportsSuccess reads the success flag of a tool output. Outputs without
// the flag count as successful.
func reportsSuccess(output json.RawMessage) bool {
	var probe struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(output, &probe); err != nil || probe.Success == nil {
		return true
	}
	return *probe.Success
}
