package tools

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/agentkit/internal/schema"
)

const LanguageDetectName = "language_detect"

type LanguageDetectInput struct {
	Text string `json:"text" jsonschema:"minLength=1,description=Text whose language should be identified."`
}

type LanguageDetectOutput struct {
	schema.ToolResult
	Code       string  `json:"code,omitempty" jsonschema:"description=BCP 47 language code."`
	Name       string  `json:"name,omitempty" jsonschema:"description=English name of the language."`
	NativeName string  `json:"native_name,omitempty" jsonschema:"description=Name of the language in itself."`
	Script     string  `json:"script,omitempty"`
	Confidence float64 `json:"confidence"`
}

// NewLanguageDetector returns a tool that identifies the dominant language
// of a text. Each non-empty line votes and the most common language wins.
func NewLanguageDetector() *TypedTool[LanguageDetectInput, LanguageDetectOutput] {
	return MustNew(LanguageDetectName,
		"Detects the language a piece of text is written in.",
		detectLanguage)
}

func detectLanguage(_ context.Context, in LanguageDetectInput) (LanguageDetectOutput, error) {
	votes := make(map[whatlanggo.Lang]int)
	var best whatlanggo.Info
	for _, line := range strings.Split(in.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		info := whatlanggo.Detect(line)
		votes[info.Lang]++
		if votes[info.Lang] > votes[best.Lang] || (info.Lang == best.Lang && info.Confidence > best.Confidence) {
			best = info
		}
	}
	if len(votes) == 0 {
		return LanguageDetectOutput{ToolResult: schema.Failed("Text is empty.")}, nil
	}

	code := best.Lang.Iso6391()
	if code == "" {
		code = best.Lang.Iso6393()
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return LanguageDetectOutput{ToolResult: schema.Failed("Could not identify the language.")}, nil
	}

	return LanguageDetectOutput{
		ToolResult: schema.Succeeded(),
		Code:       tag.String(),
		Name:       display.English.Languages().Name(tag),
		NativeName: display.Self.Name(tag),
		Script:     whatlanggo.Scripts[best.Script],
		Confidence: best.Confidence,
	}, nil
}
