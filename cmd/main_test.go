package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/agentkit/internal/agent"
	"github.com/MimeLyc/agentkit/internal/provider"
	"github.com/MimeLyc/agentkit/internal/service"
)

type fakeScheduler struct {
	called bool
	err    error
}

func (f *fakeScheduler) Schedule(context.Context) error {
	f.called = true
	return f.err
}

type fakeCron struct {
	mu      sync.Mutex
	started bool
	stopped bool
}

func (f *fakeCron) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
}

func (f *fakeCron) Stop() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return context.Background()
}

// blockingLoop runs until its context is cancelled or it is released.
type blockingLoop struct {
	running chan struct{}
	release chan struct{}
}

func newBlockingLoop() *blockingLoop {
	return &blockingLoop{running: make(chan struct{}), release: make(chan struct{})}
}

func (l *blockingLoop) Run(ctx context.Context) error {
	close(l.running)
	select {
	case <-ctx.Done():
	case <-l.release:
	}
	return nil
}

func TestRunWithComponents_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := &fakeScheduler{}
	engine := &fakeCron{}
	loop := newBlockingLoop()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, sched, engine, loop, nil, "")
	}()

	select {
	case <-loop.running:
	case <-time.After(2 * time.Second):
		t.Fatal("chat loop did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}

	assert.True(t, sched.called)
	assert.True(t, engine.started)
	assert.True(t, engine.stopped)
}

func TestRunWithComponents_StopsWhenLoopEnds(t *testing.T) {
	engine := &fakeCron{}
	loop := newBlockingLoop()
	close(loop.release)

	err := runWithComponents(context.Background(), &fakeScheduler{}, engine, loop, nil, "")
	require.NoError(t, err)
	assert.True(t, engine.stopped)
}

func TestRunWithComponents_ScheduleError(t *testing.T) {
	engine := &fakeCron{}
	err := runWithComponents(context.Background(), &fakeScheduler{err: errors.New("bad cron")}, engine, newBlockingLoop(), nil, "")
	assert.EqualError(t, err, "bad cron")
	assert.False(t, engine.started)
}

type fakeHTTP struct {
	listenCalled chan struct{}
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	listenErr    error
	addr         string
}

func newFakeHTTP() *fakeHTTP {
	return &fakeHTTP{
		listenCalled: make(chan struct{}),
		shutdownCh:   make(chan struct{}),
	}
}

func (f *fakeHTTP) ListenAndServe(addr string) error {
	f.addr = addr
	close(f.listenCalled)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.shutdownCh
	return http.ErrServerClosed
}

func (f *fakeHTTP) Shutdown(context.Context) error {
	f.shutdownOnce.Do(func() { close(f.shutdownCh) })
	return nil
}

func TestRunWithComponents_ServesHTTP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := &fakeCron{}
	srv := newFakeHTTP()

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- runWithComponents(ctx, &fakeScheduler{}, engine, nil, srv, "127.0.0.1:0")
	}()

	select {
	case <-srv.listenCalled:
	case <-time.After(2 * time.Second):
		t.Fatal("http server did not start")
	}

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runWithComponents did not exit after cancellation")
	}
	assert.Equal(t, "127.0.0.1:0", srv.addr)
	assert.True(t, engine.stopped)
}

func TestRunWithComponents_HTTPListenError(t *testing.T) {
	srv := newFakeHTTP()
	srv.listenErr = errors.New("address in use")

	err := runWithComponents(context.Background(), &fakeScheduler{}, &fakeCron{}, nil, srv, ":80")
	assert.EqualError(t, err, "address in use")
}

type scriptedSession struct {
	replies  map[string]service.Reply
	received []string
}

func (s *scriptedSession) Handle(_ context.Context, line string) service.Reply {
	s.received = append(s.received, line)
	if line == "/quit" {
		return service.Reply{Kind: service.ReplyQuit}
	}
	return s.replies[line]
}

func (s *scriptedSession) Dispatching() bool { return false }

func TestREPL(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &scriptedSession{replies: map[string]service.Reply{
		"What is 5 times 3?": {
			Kind: service.ReplyAnswer,
			Text: "5 * 3 = 15",
			ToolCalls: []agent.ToolCallRecord{{
				ToolName:  "calculator",
				Arguments: `{"operand1":5,"operand2":3,"operator":"*"}`,
				Result:    `{"success":true,"result":15}`,
			}},
			Usage: provider.Usage{TotalTokens: 42},
		},
		"/oops": {Kind: service.ReplyError, Text: "unknown command /oops"},
	}}

	in := strings.NewReader("What is 5 times 3?\n/oops\n/quit\nnever read\n")
	var out bytes.Buffer
	require.NoError(t, newREPL(session, in, &out).Run(ctx))

	assert.Equal(t, []string{"What is 5 times 3?", "/oops", "/quit"}, session.received)
	text := out.String()
	assert.Contains(t, text, "you> ")
	assert.Contains(t, text, "tool calculator(")
	assert.Contains(t, text, "5 * 3 = 15")
	assert.Contains(t, text, "42 tokens")
	assert.Contains(t, text, "unknown command /oops")
}

func TestREPL_EndOfInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &scriptedSession{}
	var out bytes.Buffer
	require.NoError(t, newREPL(session, strings.NewReader("hello"), &out).Run(ctx))
	assert.Equal(t, []string{"hello"}, session.received)
}
