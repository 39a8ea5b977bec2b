package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/llm"
)

func newTestApp(t *testing.T, replies ...string) (*App, *chatServer) {
	t.Helper()
	server := newChatServer(t, replies...)
	app, err := Build(context.Background(), testConfig(t, server.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, server
}

func calculatorCall(args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "calculator", Arguments: args}}
}

func TestSession_ChatWithToolAndHistory(t *testing.T) {
	t.Parallel()

	app, server := newTestApp(t,
		toolReply(t, calculatorCall(`{"operand1":5,"operand2":3,"operator":"*"}`)),
		contentReply(t, `{"response_message":"5 * 3 = 15"}`),
		contentReply(t, "```json\n{\"response_message\":\"You're welcome.\"}\n```"),
	)
	session := NewSession(app)
	ctx := context.Background()

	reply := session.Handle(ctx, "What is 5 times 3?")
	require.Equal(t, ReplyAnswer, reply.Kind, reply.Text)
	assert.Equal(t, "5 * 3 = 15", reply.Text)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "calculator", reply.ToolCalls[0].ToolName)
	assert.Contains(t, reply.ToolCalls[0].Result, `"result":15`)

	reply = session.Handle(ctx, "thanks")
	require.Equal(t, ReplyAnswer, reply.Kind, reply.Text)
	assert.Equal(t, "You're welcome.", reply.Text)

	requests := server.Requests()
	require.Len(t, requests, 3)
	assert.Equal(t, "auto", requests[0].ToolChoice)
	assert.Equal(t, "none", requests[1].ToolChoice)

	msgs := requests[2].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What is 5 times 3?"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "5 * 3 = 15"}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "thanks"}, msgs[3])

	assert.Len(t, session.History(), 4)
}

func TestSession_MemoryCommandsFeedThePrompt(t *testing.T) {
	t.Parallel()

	app, server := newTestApp(t, contentReply(t, `{"response_message":"Your name is Ada."}`))
	session := NewSession(app)
	ctx := context.Background()

	reply := session.Handle(ctx, "/remember The user's name is Ada.")
	require.Equal(t, ReplyInfo, reply.Kind, reply.Text)
	id := strings.TrimPrefix(reply.Text, "Remembered as ")
	require.NotEmpty(t, id)

	reply = session.Handle(ctx, "/recall name")
	require.Equal(t, ReplyInfo, reply.Kind)
	assert.Contains(t, reply.Text, id)
	assert.Contains(t, reply.Text, "The user's name is Ada.")

	reply = session.Handle(ctx, "What is my name?")
	require.Equal(t, ReplyAnswer, reply.Kind, reply.Text)
	system := server.Requests()[0].Messages[0].Content
	assert.Contains(t, system, "## Relevant Memories")
	assert.Contains(t, system, "The user's name is Ada.")

	reply = session.Handle(ctx, "/forget "+id)
	assert.Equal(t, ReplyInfo, reply.Kind)
	reply = session.Handle(ctx, "/forget "+id)
	assert.Equal(t, ReplyError, reply.Kind)

	reply = session.Handle(ctx, "/recall name")
	assert.Equal(t, "No memories found.", reply.Text)
}

func TestSession_Commands(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)
	session := NewSession(app)
	ctx := context.Background()

	assert.Equal(t, ReplyQuit, session.Handle(ctx, "/quit").Kind)
	assert.Equal(t, ReplyInfo, session.Handle(ctx, "   ").Kind)

	help := session.Handle(ctx, "/help")
	assert.Contains(t, help.Text, "/remember <text>")

	tools := session.Handle(ctx, "/tools")
	assert.Contains(t, tools.Text, "calculator: ")
	assert.Contains(t, tools.Text, "memory_store: ")

	assert.False(t, session.Dispatching())
	assert.Equal(t, "Dispatch mode on.", session.Handle(ctx, "/dispatch").Text)
	assert.True(t, session.Dispatching())

	for _, line := range []string{"/remember", "/recall", "/forget", "/dance"} {
		reply := session.Handle(ctx, line)
		assert.Equal(t, ReplyError, reply.Kind, line)
	}
	assert.Contains(t, session.Handle(ctx, "/dance").Text, "[Command] unknown command /dance")
}

func TestSession_Dispatch(t *testing.T) {
	t.Parallel()

	app, server := newTestApp(t,
		contentReply(t, `{"action":"use_tool","tool_name":"calculator","tool_parameters":{"operand1":2,"operand2":2,"operator":"+"}}`),
		contentReply(t, `{"action":"respond","direct_response":"Hi there!"}`),
		contentReply(t, `{"action":"use_tool","tool_name":"teleport","tool_parameters":{"to":"Mars"}}`),
	)
	session := NewSession(app, WithDispatch(true))
	ctx := context.Background()

	reply := session.Handle(ctx, "What is 2 + 2?")
	require.Equal(t, ReplyAnswer, reply.Kind, reply.Text)
	assert.Contains(t, reply.Text, `"result":4`)
	require.Len(t, reply.ToolCalls, 1)
	assert.False(t, reply.ToolCalls[0].IsError)
	assert.True(t, strings.HasPrefix(reply.ToolCalls[0].ID, "dispatch_"))

	reply = session.Handle(ctx, "Hello")
	require.Equal(t, ReplyAnswer, reply.Kind, reply.Text)
	assert.Equal(t, "Hi there!", reply.Text)

	reply = session.Handle(ctx, "Take me to Mars")
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Contains(t, reply.Text, "Tool 'teleport' not found.")

	requests := server.Requests()
	require.Len(t, requests, 3)
	assert.Empty(t, requests[0].Tools, "the dispatch agent leaves tool execution to the caller")
	require.NotNil(t, requests[0].ResponseFormat)
	assert.Equal(t, "DispatchOutput", requests[0].ResponseFormat.JSONSchema.Name)
	assert.Contains(t, requests[0].Messages[0].Content, "- calculator: ")
}

func TestSession_FailedTurn(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t,
		contentReply(t, "I would rather not answer in JSON."),
		contentReply(t, `{"action":"respond"}`),
	)
	session := NewSession(app)
	ctx := context.Background()

	reply := session.Handle(ctx, "Hello")
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Contains(t, reply.Text, "LLM output failed validation against the output schema.")
	assert.Empty(t, session.History(), "failed turns are not kept")

	session.Handle(ctx, "/dispatch")
	reply = session.Handle(ctx, "Hello")
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Contains(t, reply.Text, "neither is set")
}

func TestSession_ProviderDown(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t)
	reply := NewSession(app).Handle(context.Background(), "Hello")
	assert.Equal(t, ReplyError, reply.Kind)
	assert.Contains(t, reply.Text, "An unexpected error occurred during agent execution.")
}

func TestSession_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	s := &Session{maxHistory: 4}
	for i := 0; i < 5; i++ {
		s.remember("q", "a")
	}
	assert.Len(t, s.History(), 4)
}

func TestSession_OddHistoryBoundKeepsWholeExchanges(t *testing.T) {
	t.Parallel()

	for _, bound := range []int{1, 3, 5} {
		s := &Session{maxHistory: bound}
		for i := 0; i < 4; i++ {
			s.remember(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		}
		history := s.History()
		assert.Len(t, history, bound-1, "bound %d", bound)
		if len(history) > 0 {
			assert.Equal(t, llm.RoleUser, history[0].Role, "bound %d", bound)
			assert.Equal(t, "a3", history[len(history)-1].Content)
		}
	}
}
