package agent

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/prompt"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/pkg/log"
)

// Agent runs turns that take an In and produce an Out. Both are validated
// against JSON schemas reflected from their types.
type Agent[In schema.Input, Out any] struct {
	cfg    Config
	input  *schema.Schema
	output *schema.Schema
}

func New[In schema.Input, Out any](cfg Config) (*Agent[In, Out], error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("agent provider is required")
	}
	if cfg.Prompt == nil {
		cfg.Prompt = prompt.New(DefaultSystemPrompt)
	}
	if cfg.MemoryQueryResults <= 0 {
		cfg.MemoryQueryResults = DefaultMemoryQueryResults
	}

	input, err := schema.For[In]()
	if err != nil {
		return nil, fmt.Errorf("agent input schema: %w", err)
	}
	output, err := schema.For[Out]()
	if err != nil {
		return nil, fmt.Errorf("agent output schema: %w", err)
	}
	return &Agent[In, Out]{cfg: cfg, input: input, output: output}, nil
}

func (a *Agent[In, Out]) InputSchema() *schema.Schema { return a.input }

func (a *Agent[In, Out]) OutputSchema() *schema.Schema { return a.output }

// Run executes one turn. It never panics and never returns a Go error:
// failures come back as Result.Err.
func (a *Agent[In, Out]) Run(ctx context.Context, in In, opts ...RunOption) (res Result[Out]) {
	t := &turn[In, Out]{agent: a, state: StateValidating}
	for _, opt := range opts {
		opt(&t.opts)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Agent turn panicked in %s: %v\n%s", t.state, r, debug.Stack())
			res = t.result
			res.Output = nil
			res.Err = NewError(KindRuntime, "An unexpected error occurred during agent execution.")
			res.Err.Details = fmt.Sprint(r)
			res.Err.WithContext("state", t.state)
		}
	}()

	t.run(ctx, in)
	return t.result
}

// RunJSON decodes a raw input payload and runs a turn with it. A payload
// that does not match the input schema is an input validation failure.
func (a *Agent[In, Out]) RunJSON(ctx context.Context, data []byte, opts ...RunOption) Result[Out] {
	in, err := schema.Decode[In](a.input, data)
	if err != nil {
		return Result[Out]{Err: WrapError(err, KindInputValidation,
			fmt.Sprintf("Input data does not conform to the expected schema: %s", a.input.Name()))}
	}
	return a.Run(ctx, in, opts...)
}

// State is a step of the turn state machine.
type State string

const (
	StateValidating            State = "VALIDATING"
	StateRetrievingMemory      State = "RETRIEVING_MEMORY"
	StatePrompting             State = "PROMPTING"
	StateAwaitingFirstResponse State = "AWAITING_FIRST_RESPONSE"
	StateDirectAnswer          State = "DIRECT_ANSWER"
	StateExecutingTools        State = "EXECUTING_TOOLS"
	StateAwaitingFinalResponse State = "AWAITING_FINAL_RESPONSE"
	StateDone                  State = "DONE"
)

type turn[In schema.Input, Out any] struct {
	agent    *Agent[In, Out]
	opts     runOptions
	state    State
	messages []llm.Message
	result   Result[Out]
}

func (t *turn[In, Out]) enter(s State) {
	log.Debug("Agent turn %s -> %s", t.state, s)
	t.state = s
}

func (t *turn[In, Out]) fail(kind ErrorKind, message string, err error) {
	t.result.Output = nil
	t.result.Err = WrapError(err, kind, message).WithContext("state", t.state)
	t.enter(StateDone)
}

func (t *turn[In, Out]) run(ctx context.Context, in In) {
	a := t.agent

	if err := a.input.ValidateValue(in); err != nil {
		t.fail(KindInputValidation,
			fmt.Sprintf("Input data does not conform to the expected schema: %s", a.input.Name()), err)
		return
	}

	var memories []memory.QueryResult
	if a.cfg.Memory != nil {
		t.enter(StateRetrievingMemory)
		memories = t.retrieve(ctx, in.Message())
	}

	t.enter(StatePrompting)
	tools := a.cfg.Tools.Definitions()
	t.messages = a.Messages(in, memories, t.opts.history...)

	t.enter(StateAwaitingFirstResponse)
	resp, err := t.generate(ctx, tools, provider.ToolChoiceAuto)
	if err != nil {
		t.fail(KindRuntime, "An unexpected error occurred during agent execution.", err)
		return
	}

	if resp.HasToolCalls() {
		t.enter(StateExecutingTools)
		t.executeTools(ctx, resp)

		t.enter(StateAwaitingFinalResponse)
		resp, err = t.generate(ctx, tools, provider.ToolChoiceNone)
		if err != nil {
			t.fail(KindRuntime, "An unexpected error occurred during agent execution.", err)
			return
		}
		if resp.HasToolCalls() {
			t.fail(KindOutputValidation, "LLM output failed validation against the output schema.",
				fmt.Errorf("provider requested %d tool call(s) after tool use was disabled", len(resp.ToolCalls)))
			return
		}
	} else {
		t.enter(StateDirectAnswer)
	}

	t.finish(resp)
}

func (t *turn[In, Out]) retrieve(ctx context.Context, text string) []memory.QueryResult {
	a := t.agent
	where := a.cfg.MemoryFilter
	if t.opts.where != nil {
		where = t.opts.where
	}
	memories := a.cfg.Memory.Retrieve(ctx, text, a.cfg.MemoryQueryResults, where)
	log.Debug("Retrieved %d memories for turn", len(memories))
	return memories
}

func (t *turn[In, Out]) generate(ctx context.Context, tools []llm.ToolDefinition, choice provider.ToolChoice) (*provider.Response, error) {
	resp, err := t.agent.cfg.Provider.Generate(ctx, provider.Request{
		Messages:     t.messages,
		OutputSchema: t.agent.output,
		Tools:        tools,
		ToolChoice:   choice,
	})
	t.result.ProviderCalls++
	if err != nil {
		return nil, fmt.Errorf("%s call %d: %w", t.agent.cfg.Provider.Name(), t.result.ProviderCalls, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("%s call %d: %w", t.agent.cfg.Provider.Name(), t.result.ProviderCalls, provider.ErrNoOutput)
	}
	t.result.Usage.PromptTokens += resp.Usage.PromptTokens
	t.result.Usage.CompletionTokens += resp.Usage.CompletionTokens
	t.result.Usage.TotalTokens += resp.Usage.TotalTokens
	return resp, nil
}

// executeTools replays the assistant's tool-call message and appends one
// tool message per call, in request order.
func (t *turn[In, Out]) executeTools(ctx context.Context, resp *provider.Response) {
	assistant := resp.Message
	assistant.Role = llm.RoleAssistant
	assistant.ToolCalls = resp.ToolCalls
	t.messages = append(t.messages, assistant)

	for _, call := range resp.ToolCalls {
		exec := t.agent.cfg.Tools.Execute(ctx, call)
		t.result.ToolCalls = append(t.result.ToolCalls, ToolCallRecord{
			ID:        call.ID,
			ToolName:  call.Function.Name,
			Arguments: call.Function.Arguments,
			Result:    string(exec.Output),
			IsError:   !exec.Success,
		})
		t.messages = append(t.messages, llm.Message{
			Role:       llm.RoleTool,
			Name:       call.Function.Name,
			Content:    string(exec.Output),
			ToolCallID: call.ID,
		})
		log.Info("Tool %s executed: success=%v", call.Function.Name, exec.Success)
	}
}

func (t *turn[In, Out]) finish(resp *provider.Response) {
	if len(resp.Output) == 0 {
		t.fail(KindOutputValidation, "LLM output failed validation against the output schema.", provider.ErrNoOutput)
		return
	}
	out, err := schema.Decode[Out](t.agent.output, resp.Output)
	if err != nil {
		t.fail(KindOutputValidation, "LLM output failed validation against the output schema.", err)
		return
	}
	t.result.Output = &out
	t.enter(StateDone)
}

// Messages returns the conversation a turn would send as its first request.
// Useful for inspecting prompts without calling a provider.
func (a *Agent[In, Out]) Messages(in In, memories []memory.QueryResult, history ...llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	if system := a.cfg.Prompt.Build(a.cfg.Tools.Definitions(), memories); system != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	msgs = append(msgs, history...)
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Message()})
}
