// Package provider defines the contract between the agent and chat-completion
// backends. Implementations live in the subpackages.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/agentkit/internal/llm"
	"github.com/MimeLyc/agentkit/internal/schema"
)

// ToolChoice tells the backend whether it may, must or must not call tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

var (
	ErrEmptyPrompt = errors.New("prompt must contain at least one message")
	ErrNoOutput    = errors.New("response contained neither output nor tool calls")
)

// Provider generates one response for a prompt.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Request is one call to a backend.
//
// Messages: ordered prompt, at least one message
// OutputSchema: structured output the answer must follow (optional)
// Tools: tool definitions offered to the model (optional)
// ToolChoice: defaults to auto when tools are present
type Request struct {
	Messages     []llm.Message
	OutputSchema *schema.Schema
	Tools        []llm.ToolDefinition
	ToolChoice   ToolChoice
}

func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyPrompt
	}
	switch r.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
	default:
		return fmt.Errorf("unknown tool choice %q", r.ToolChoice)
	}
	if r.ToolChoice == ToolChoiceRequired && len(r.Tools) == 0 {
		return fmt.Errorf("tool choice %q needs at least one tool", r.ToolChoice)
	}
	return nil
}

// EffectiveToolChoice returns the choice to send, or "" when no tools are offered.
func (r Request) EffectiveToolChoice() ToolChoice {
	if len(r.Tools) == 0 {
		return ""
	}
	if r.ToolChoice == "" {
		return ToolChoiceAuto
	}
	return r.ToolChoice
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is either a raw tool-call response (ToolCalls set) or a final
// answer whose structured payload is in Output. Message is the assistant
// message as it should be replayed in the conversation.
type Response struct {
	Output    json.RawMessage
	Message   llm.Message
	ToolCalls []llm.ToolCall
	Usage     Usage
	Model     string
}

func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// ExtractJSON pulls a JSON document out of model text, dropping markdown
// code fences and any prose around the outermost object or array.
func ExtractJSON(content string) (json.RawMessage, bool) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), true
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start >= 0 && end > start && json.Valid([]byte(text[start:end+1])) {
			return json.RawMessage(text[start : end+1]), true
		}
	}
	return nil, false
}

// FinalOutput turns the text of a final answer into Output. Without an
// output schema the text is encoded as a JSON string. Text that holds no JSON
// is passed through as is and fails validation downstream.
func FinalOutput(content string, hasSchema bool) json.RawMessage {
	if !hasSchema {
		data, _ := json.Marshal(content)
		return data
	}
	if out, ok := ExtractJSON(content); ok {
		return out
	}
	return json.RawMessage(content)
}
