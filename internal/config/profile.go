package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Profile shapes the agent's system prompt and tool set. It is read from a
// TOML file; every field is optional.
//
//	role = "You are a support agent for Acme."
//	core_instructions = "Answer in two sentences."
//	reply_language = "fr"
//	order = ["role_description", "tool_section", "core_instructions"]
//
//	[headers]
//	tool_section = "## Tools"
//
//	[sections]
//	house_style = "Use British spelling."
//
//	[tools]
//	disabled = ["web_search"]
//
//	[memory]
//	filter = { kind = "fact" }
type Profile struct {
	Role                 string            `toml:"role"`
	CoreInstructions     string            `toml:"core_instructions"`
	OutputInstructions   string            `toml:"output_instructions"`
	SecurityInstructions *string           `toml:"security_instructions"`
	ReplyLanguage        string            `toml:"reply_language"`
	Order                []string          `toml:"order"`
	Headers              map[string]string `toml:"headers"`
	Sections             map[string]string `toml:"sections"`
	Tools                ToolToggles       `toml:"tools"`
	Memory               ProfileMemory     `toml:"memory"`
}

// ToolToggles selects built-in tools. An empty Enabled list means all of them.
type ToolToggles struct {
	Enabled  []string `toml:"enabled"`
	Disabled []string `toml:"disabled"`
}

// Allows reports whether the named tool should be registered.
func (t ToolToggles) Allows(name string) bool {
	if slices.Contains(t.Disabled, name) {
		return false
	}
	return len(t.Enabled) == 0 || slices.Contains(t.Enabled, name)
}

type ProfileMemory struct {
	Filter map[string]any `toml:"filter"`
}

// LoadProfile reads a profile from path. A missing file yields the zero profile.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path == "" {
		return p, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Profile{}, fmt.Errorf("profile %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return p, nil
}

func (p Profile) Validate() error {
	if p.ReplyLanguage != "" {
		if _, err := language.Parse(p.ReplyLanguage); err != nil {
			return fmt.Errorf("invalid reply_language: %w", err)
		}
	}

	seen := make(map[string]bool, len(p.Order))
	for _, name := range p.Order {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("profile order contains an empty section name")
		}
		if seen[name] {
			return fmt.Errorf("profile order lists %s twice", name)
		}
		seen[name] = true
	}

	for _, name := range p.Tools.Enabled {
		if slices.Contains(p.Tools.Disabled, name) {
			return fmt.Errorf("tool %s is both enabled and disabled", name)
		}
	}
	return nil
}

// LanguageInstruction renders ReplyLanguage as an instruction, or "" when unset.
func (p Profile) LanguageInstruction() string {
	if p.ReplyLanguage == "" {
		return ""
	}
	tag, err := language.Parse(p.ReplyLanguage)
	if err != nil {
		return ""
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		name = tag.String()
	}
	return fmt.Sprintf("Always reply in %s.", name)
}
