package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Input is implemented by every agent input contract.
type Input interface {
	// Message returns the free text the turn is about.
	Message() string
}

// AgentInput is the default input contract: one free-text message.
type AgentInput struct {
	ChatMessage string `json:"chat_message" jsonschema:"minLength=1,description=The user's message to the agent."`
}

func (in AgentInput) Message() string {
	return in.ChatMessage
}

// AgentOutput is the default output contract.
type AgentOutput struct {
	ResponseMessage string `json:"response_message" jsonschema:"description=The agent's reply to the user."`
}

// Action selects what a DispatchOutput asks the caller to do.
type Action string

const (
	ActionUseTool Action = "use_tool"
	ActionRespond Action = "respond"
)

var ErrDispatchAmbiguous = errors.New("dispatch output must set exactly one of tool invocation or direct response")

// DispatchOutput lets the model either pick a tool for the caller to run or
// answer directly. Exactly one side is populated.
type DispatchOutput struct {
	Action         Action         `json:"action" jsonschema:"enum=use_tool,enum=respond,description=Whether to call a tool or respond directly."`
	ToolName       string         `json:"tool_name,omitempty" jsonschema:"description=Name of the tool to call when action is use_tool."`
	ToolParameters map[string]any `json:"tool_parameters,omitempty" jsonschema:"description=Arguments for the tool when action is use_tool."`
	DirectResponse string         `json:"direct_response,omitempty" jsonschema:"description=Reply text when action is respond."`
}

// Validate enforces that exactly one of the tool side and the response side is set.
func (d DispatchOutput) Validate() error {
	hasTool := strings.TrimSpace(d.ToolName) != "" || len(d.ToolParameters) > 0
	hasResponse := strings.TrimSpace(d.DirectResponse) != ""

	switch {
	case hasTool && hasResponse:
		return fmt.Errorf("%w: both are set", ErrDispatchAmbiguous)
	case !hasTool && !hasResponse:
		return fmt.Errorf("%w: neither is set", ErrDispatchAmbiguous)
	}

	switch d.Action {
	case ActionUseTool:
		if !hasTool || strings.TrimSpace(d.ToolName) == "" {
			return fmt.Errorf("action %q requires tool_name", d.Action)
		}
	case ActionRespond:
		if !hasResponse {
			return fmt.Errorf("action %q requires direct_response", d.Action)
		}
	default:
		return fmt.Errorf("unknown action %q", d.Action)
	}
	return nil
}

// ToolResult is embedded in every tool output.
type ToolResult struct {
	Success      bool   `json:"success" jsonschema:"description=Whether the tool ran successfully."`
	ErrorMessage string `json:"error_message,omitempty" jsonschema:"description=Reason for failure when success is false."`
}

// Succeeded returns a successful ToolResult.
func Succeeded() ToolResult {
	return ToolResult{Success: true}
}

// Failed returns a failed ToolResult carrying msg.
func Failed(format string, args ...any) ToolResult {
	return ToolResult{Success: false, ErrorMessage: fmt.Sprintf(format, args...)}
}
