package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	KindInputValidation  ErrorKind = "input_validation"
	KindOutputValidation ErrorKind = "output_validation"
	KindRuntime          ErrorKind = "runtime"
)

// Error is returned in place of an output when a turn fails.
type Error struct {
	Kind    ErrorKind      `json:"error_type"`
	Message string         `json:"error_message"`
	Details string         `json:"details,omitempty"`
	Context map[string]any `json:"-"`
	Cause   error          `json:"-"`
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError keeps err as the cause and its text as Details.
func WrapError(err error, kind ErrorKind, message string) *Error {
	e := NewError(kind, message)
	e.Cause = err
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Details != "" {
		parts = append(parts, fmt.Sprintf("details: %s", e.Details))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func IsKind(err error, kind ErrorKind) bool {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr.Kind == kind
	}
	return false
}
