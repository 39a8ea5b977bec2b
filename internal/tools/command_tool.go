package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandOutput      = 16 << 10
)

var (
	optionalGroupRegex = regexp.MustCompile(`\[([^\[\]]+)\]`)
	placeholderRegex   = regexp.MustCompile(`\{(\w+)\}`)
)

type CommandParameter struct {
	Type        string `toml:"type"`
	Description string `toml:"description"`
	Required    bool   `toml:"required"`
}

// CommandToolConfig declares a tool backed by an external command.
// Command is split into argv like a shell would, without running a shell.
// {name} is replaced by the argument value and [ ... ] groups are kept only
// when every placeholder inside them has a value.
type CommandToolConfig struct {
	Name        string                      `toml:"name"`
	Description string                      `toml:"description"`
	Command     string                      `toml:"command"`
	Timeout     time.Duration               `toml:"timeout"`
	Parameters  map[string]CommandParameter `toml:"parameters"`
}

type CommandToolsConfig struct {
	Tools []CommandToolConfig `toml:"tool"`
}

type CommandOutput struct {
	schema.ToolResult
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	Truncated bool   `json:"truncated,omitempty"`
}

// LoadCommandTools reads command tool declarations from a TOML file.
// A missing file yields no tools.
func LoadCommandTools(path string) ([]*CommandTool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var cfg CommandToolsConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse tool config %s: %w", path, err)
	}

	tools := make([]*CommandTool, 0, len(cfg.Tools))
	for _, tc := range cfg.Tools {
		tool, err := NewCommandTool(tc)
		if err != nil {
			return nil, fmt.Errorf("tool config %s: %w", path, err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

// CommandTool runs an external program with arguments filled from the call.
type CommandTool struct {
	cfg    CommandToolConfig
	params json.RawMessage
}

func NewCommandTool(cfg CommandToolConfig) (*CommandTool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("command tool name is required")
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("command tool %q has no command", cfg.Name)
	}
	if _, err := shlex.Split(cfg.Command); err != nil {
		return nil, fmt.Errorf("command tool %q: %w", cfg.Name, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCommandTimeout
	}
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("Runs %s.", cfg.Name)
	}

	cfg.Parameters = maps.Clone(cfg.Parameters)
	properties := make(map[string]any, len(cfg.Parameters))
	required := make([]string, 0)
	for name, p := range cfg.Parameters {
		if p.Type == "" {
			p.Type = "string"
		}
		switch p.Type {
		case "string", "number", "integer", "boolean":
		default:
			return nil, fmt.Errorf("command tool %q: unknown parameter type %q for %s", cfg.Name, p.Type, name)
		}
		cfg.Parameters[name] = p

		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	slices.Sort(required)

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	params, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("command tool %q parameters: %w", cfg.Name, err)
	}

	return &CommandTool{cfg: cfg, params: params}, nil
}

func (t *CommandTool) Name() string { return t.cfg.Name }

func (t *CommandTool) Description() string { return t.cfg.Description }

func (t *CommandTool) Parameters() json.RawMessage { return t.params }

func (t *CommandTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var parsed map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		}
	}

	argv, err := t.argv(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	combined := &cappedBuffer{limit: maxCommandOutput}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = combined
	cmd.Stderr = combined
	runErr := cmd.Run()

	out := CommandOutput{Output: combined.String(), Truncated: combined.truncated}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		out.ToolResult = schema.Succeeded()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.ExitCode = -1
		out.ToolResult = schema.Failed("Command timed out after %s.", t.cfg.Timeout)
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		out.ToolResult = schema.Failed("Command exited with status %d.", out.ExitCode)
	default:
		return nil, fmt.Errorf("run %s: %w", argv[0], runErr)
	}

	return json.Marshal(out)
}

// cappedBuffer keeps the first limit bytes written to it and discards the
// rest without failing the writer.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.limit - b.buf.Len(); n > room {
		b.truncated = true
		p = p[:max(room, 0)]
	}
	b.buf.Write(p)
	return n, nil
}

// String returns the kept output. A truncated tail never ends inside a
// multi-byte rune.
func (b *cappedBuffer) String() string {
	out := b.buf.Bytes()
	if b.truncated {
		out = trimPartialRune(out)
	}
	return string(out)
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax-1 && len(b) > 0; i++ {
		if r, size := utf8.DecodeLastRune(b); r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}

// argv expands the command template for one call.
func (t *CommandTool) argv(args map[string]any) ([]string, error) {
	for name, p := range t.cfg.Parameters {
		if v, ok := args[name]; p.Required && (!ok || v == nil) {
			return nil, fmt.Errorf("required parameter %s not provided", name)
		}
	}

	cmdStr := t.cfg.Command
	for {
		match := optionalGroupRegex.FindStringSubmatchIndex(cmdStr)
		if match == nil {
			break
		}
		group := cmdStr[match[2]:match[3]]
		replacement := ""
		if hasAllParameters(group, args) {
			replacement = group
		}
		cmdStr = cmdStr[:match[0]] + replacement + cmdStr[match[1]:]
	}

	tokens, err := shlex.Split(cmdStr)
	if err != nil {
		return nil, err
	}

	argv := make([]string, 0, len(tokens))
	for _, token := range tokens {
		var missing string
		expanded := placeholderRegex.ReplaceAllStringFunc(token, func(m string) string {
			name := m[1 : len(m)-1]
			v, ok := args[name]
			if !ok || v == nil {
				missing = name
				return ""
			}
			return formatArg(v)
		})
		if missing != "" {
			// optional parameter outside a [ ] group
			if expanded == "" {
				continue
			}
		}
		argv = append(argv, expanded)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return argv, nil
}

func hasAllParameters(fragment string, args map[string]any) bool {
	matches := placeholderRegex.FindAllStringSubmatch(fragment, -1)
	if len(matches) == 0 {
		return false
	}
	for _, match := range matches {
		if v, ok := args[match[1]]; !ok || v == nil {
			return false
		}
	}
	return true
}

func formatArg(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		data, _ := json.Marshal(x)
		return string(data)
	}
}
