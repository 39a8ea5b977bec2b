package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/MimeLyc/agentkit/internal/service"
)

var (
	stylePrompt   = lipgloss.NewStyle().Foreground(lipgloss.Color("#a586d9")).Bold(true)
	styleAnswer   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
	styleToolLog  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3c5a42")).Faint(true)
	styleError    = lipgloss.NewStyle().Foreground(lipgloss.Color("#dd9f6b"))
	styleInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleDispatch = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68")).Bold(true)
)

type handler interface {
	Handle(ctx context.Context, line string) service.Reply
	Dispatching() bool
}

// repl reads lines from in and prints rendered replies to out.
type repl struct {
	session handler
	in      io.Reader
	out     io.Writer
}

func newREPL(session handler, in io.Reader, out io.Writer) *repl {
	return &repl{session: session, in: in, out: out}
}

// Run returns nil on /quit, end of input or cancellation.
func (r *repl) Run(ctx context.Context) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		r.prompt()
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			reply := r.session.Handle(ctx, line)
			if reply.Kind == service.ReplyQuit {
				return nil
			}
			r.render(reply)
		}
	}
}

func (r *repl) prompt() {
	if r.session.Dispatching() {
		fmt.Fprint(r.out, styleDispatch.Render("dispatch> "))
		return
	}
	fmt.Fprint(r.out, stylePrompt.Render("you> "))
}

func (r *repl) render(reply service.Reply) {
	for _, call := range reply.ToolCalls {
		status := "ok"
		if call.IsError {
			status = "failed"
		}
		fmt.Fprintln(r.out, styleToolLog.Render(fmt.Sprintf("tool %s(%s) %s: %s", call.ToolName, call.Arguments, status, call.Result)))
	}

	text := strings.TrimSpace(reply.Text)
	switch reply.Kind {
	case service.ReplyAnswer:
		fmt.Fprintln(r.out, styleAnswer.Render(text))
		if reply.Usage.TotalTokens > 0 {
			fmt.Fprintln(r.out, styleInfo.Render(fmt.Sprintf("%d tokens", reply.Usage.TotalTokens)))
		}
	case service.ReplyError:
		fmt.Fprintln(r.out, styleError.Render(text))
	case service.ReplyInfo:
		if text != "" {
			fmt.Fprintln(r.out, styleInfo.Render(text))
		}
	}
}
