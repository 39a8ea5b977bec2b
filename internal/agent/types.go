package agent

import (
	"context"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/prompt"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/tools"
)

const (
	DefaultSystemPrompt       = "You are a helpful assistant."
	DefaultMemoryQueryResults = 3
)

// MemoryRetriever returns memories relevant to a text. It must not fail;
// memory.Manager degrades to an empty result on backend errors.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, text string, n int, where map[string]any) []memory.QueryResult
}

// Config is fixed at construction and shared by every turn.
//
// Provider: backend to call (required)
// Tools: tools offered to the model (optional)
// Memory: retriever consulted before prompting (optional)
// Prompt: system prompt builder; defaults to DefaultSystemPrompt
// MemoryQueryResults: memories to retrieve per turn (default 3)
// MemoryFilter: metadata filter applied to retrieval (optional)
type Config struct {
	Provider           provider.Provider
	Tools              *tools.Registry
	Memory             MemoryRetriever
	Prompt             *prompt.Builder
	MemoryQueryResults int
	MemoryFilter       map[string]any
}

// Result is the outcome of one turn. Exactly one of Output and Err is set.
type Result[Out any] struct {
	Output *Out
	Err    *Error

	// ToolCalls records every tool call executed during the turn
	ToolCalls []ToolCallRecord

	// ProviderCalls is the number of provider calls made (0, 1 or 2)
	ProviderCalls int

	// Usage sums token usage over the provider calls
	Usage provider.Usage
}

func (r Result[Out]) OK() bool {
	return r.Err == nil && r.Output != nil
}

// ToolCallRecord records a single tool call and its result
type ToolCallRecord struct {
	// ID is the provider's id for the call
	ID string

	// ToolName is the name the model asked for
	ToolName string

	// Arguments is the JSON arguments passed to the tool
	Arguments string

	// Result is the JSON fed back to the model
	Result string

	// IsError indicates if the tool execution resulted in an error
	IsError bool
}

// RunOption adjusts a single turn.
type RunOption func(*runOptions)

type runOptions struct {
	history []llm.Message
	where   map[string]any
}

// WithHistory inserts earlier user and assistant messages between the system
// prompt and the new user message.
func WithHistory(msgs ...llm.Message) RunOption {
	return func(o *runOptions) { o.history = append(o.history, msgs...) }
}

// WithMemoryFilter overrides Config.MemoryFilter for one turn.
func WithMemoryFilter(where map[string]any) RunOption {
	return func(o *runOptions) { o.where = where }
}
