package service

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/MimeLyc/agentkit/internal/agent"
	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/memory"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/schema"
	"github.com/MimeLyc/agentkit/pkg/log"
)

const DefaultMaxHistory = 20

type ReplyKind string

const (
	ReplyAnswer ReplyKind = "answer"
	ReplyInfo   ReplyKind = "info"
	ReplyError  ReplyKind = "error"
	ReplyQuit   ReplyKind = "quit"
)

// Reply is what the session shows for one input line.
type Reply struct {
	Kind      ReplyKind
	Text      string
	ToolCalls []agent.ToolCallRecord
	Usage     provider.Usage
}

// Session is one interactive conversation. It keeps a bounded history of
// answered turns and handles slash commands. Not safe for concurrent use.
type Session struct {
	app        *App
	dispatch   bool
	history    []llm.Message
	maxHistory int
}

type SessionOption func(*Session)

// WithDispatch starts the session in dispatch mode.
func WithDispatch(on bool) SessionOption {
	return func(s *Session) { s.dispatch = on }
}

// WithMaxHistory bounds the number of history messages sent with each turn.
// An odd bound is rounded down to whole user/assistant exchanges.
func WithMaxHistory(n int) SessionOption {
	return func(s *Session) { s.maxHistory = n }
}

func NewSession(app *App, opts ...SessionOption) *Session {
	s := &Session{app: app, maxHistory: DefaultMaxHistory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Dispatching() bool { return s.dispatch }

func (s *Session) History() []llm.Message {
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

const helpText = `/remember <text>  store a memory
/recall <query>   search memories
/forget <id>      delete a memory
/tools            list available tools
/dispatch         toggle dispatch mode
/reset            clear the conversation history
/quit             exit`

// Handle processes one input line.
func (s *Session) Handle(ctx context.Context, line string) Reply {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{Kind: ReplyInfo}
	}
	if strings.HasPrefix(line, "/") {
		var reply Reply
		err := SafeExecute(func() error {
			var err error
			reply, err = s.command(ctx, line)
			return err
		})
		if err != nil {
			return Reply{Kind: ReplyError, Text: err.Error()}
		}
		return reply
	}
	if s.dispatch {
		return s.dispatchTurn(ctx, line)
	}
	return s.chatTurn(ctx, line)
}

func (s *Session) command(ctx context.Context, line string) (Reply, error) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return Reply{Kind: ReplyQuit}, nil
	case "/help":
		return Reply{Kind: ReplyInfo, Text: helpText}, nil
	case "/reset":
		s.history = nil
		return Reply{Kind: ReplyInfo, Text: "Conversation history cleared."}, nil
	case "/dispatch":
		s.dispatch = !s.dispatch
		return Reply{Kind: ReplyInfo, Text: fmt.Sprintf("Dispatch mode %s.", onOff(s.dispatch))}, nil
	case "/tools":
		var sb strings.Builder
		for _, def := range s.app.Tools.Definitions() {
			fmt.Fprintf(&sb, "%s: %s\n", def.Function.Name, def.Function.Description)
		}
		return Reply{Kind: ReplyInfo, Text: strings.TrimRight(sb.String(), "\n")}, nil
	case "/remember":
		if arg == "" {
			return Reply{}, NewError(ErrCommand, "usage: /remember <text>")
		}
		id, err := s.app.Memory.Store(ctx, memory.Entry{Text: arg, Metadata: map[string]any{"source": "cli"}})
		if err != nil {
			return Reply{}, WrapError(err, ErrMemory, "failed to store memory")
		}
		return Reply{Kind: ReplyInfo, Text: "Remembered as " + id}, nil
	case "/recall":
		if arg == "" {
			return Reply{}, NewError(ErrCommand, "usage: /recall <query>")
		}
		results, err := s.app.Memory.Query(ctx, arg, s.app.Config.Memory.QueryResults, nil)
		if err != nil {
			return Reply{}, WrapError(err, ErrMemory, "failed to query memories")
		}
		if len(results) == 0 {
			return Reply{Kind: ReplyInfo, Text: "No memories found."}, nil
		}
		lines := make([]string, 0, len(results))
		for _, r := range results {
			lines = append(lines, fmt.Sprintf("%s (%.3f) %s", r.Record.ID, r.Distance, r.Record.Text))
		}
		return Reply{Kind: ReplyInfo, Text: strings.Join(lines, "\n")}, nil
	case "/forget":
		if arg == "" {
			return Reply{}, NewError(ErrCommand, "usage: /forget <id>")
		}
		if !s.app.Memory.Delete(ctx, arg) {
			return Reply{}, NewError(ErrMemory, "no memory with id "+arg)
		}
		return Reply{Kind: ReplyInfo, Text: "Forgot " + arg}, nil
	default:
		return Reply{}, NewError(ErrCommand, "unknown command "+name).WithContext("input", line)
	}
}

func (s *Session) chatTurn(ctx context.Context, line string) Reply {
	res := s.app.Chat.Run(ctx, schema.AgentInput{ChatMessage: line}, agent.WithHistory(s.history...))
	if !res.OK() {
		return s.failed(res.Err, res.ToolCalls, res.Usage)
	}
	answer := res.Output.ResponseMessage
	s.remember(line, answer)
	return Reply{Kind: ReplyAnswer, Text: answer, ToolCalls: res.ToolCalls, Usage: res.Usage}
}

// dispatchTurn asks the dispatch agent for a decision and runs the chosen
// tool itself.
func (s *Session) dispatchTurn(ctx context.Context, line string) Reply {
	res := s.app.Dispatch.Run(ctx, schema.AgentInput{ChatMessage: line}, agent.WithHistory(s.history...))
	if !res.OK() {
		return s.failed(res.Err, res.ToolCalls, res.Usage)
	}

	out := res.Output
	if out.Action == schema.ActionRespond {
		s.remember(line, out.DirectResponse)
		return Reply{Kind: ReplyAnswer, Text: out.DirectResponse, Usage: res.Usage}
	}

	args, err := json.Marshal(out.ToolParameters)
	if err != nil {
		return Reply{Kind: ReplyError, Text: fmt.Sprintf("invalid tool parameters: %v", err)}
	}
	if out.ToolParameters == nil {
		args = []byte(`{}`)
	}
	call := llm.ToolCall{
		ID:       "dispatch_" + uuid.NewString(),
		Type:     "function",
		Function: llm.FunctionCall{Name: out.ToolName, Arguments: string(args)},
	}
	exec := s.app.Tools.Execute(ctx, call)
	log.Info("Dispatched tool %s: success=%v", out.ToolName, exec.Success)

	record := agent.ToolCallRecord{
		ID:        call.ID,
		ToolName:  out.ToolName,
		Arguments: call.Function.Arguments,
		Result:    string(exec.Output),
		IsError:   !exec.Success,
	}
	text := fmt.Sprintf("%s → %s", out.ToolName, exec.Output)
	s.remember(line, text)

	kind := ReplyAnswer
	if !exec.Success {
		kind = ReplyError
	}
	return Reply{Kind: kind, Text: text, ToolCalls: []agent.ToolCallRecord{record}, Usage: res.Usage}
}

func (s *Session) failed(err *agent.Error, calls []agent.ToolCallRecord, usage provider.Usage) Reply {
	log.Warn("Turn failed: %v", err)
	text := err.Message
	if err.Details != "" {
		text += "\n" + err.Details
	}
	return Reply{Kind: ReplyError, Text: text, ToolCalls: calls, Usage: usage}
}

func (s *Session) remember(user, assistant string) {
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: user},
		llm.Message{Role: llm.RoleAssistant, Content: assistant},
	)
	if s.maxHistory <= 0 {
		return
	}
	// whole exchanges only, so history always opens with a user message
	limit := s.maxHistory - s.maxHistory%2
	if len(s.history) > limit {
		s.history = slices.Clone(s.history[len(s.history)-limit:])
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
