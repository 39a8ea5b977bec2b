package service

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MimeLyc/agentkit/pkg/log"
)

// ErrorType says which part of the application failed.
type ErrorType int

const (
	ErrConfig ErrorType = iota
	ErrProvider
	ErrMemory
	ErrTools
	ErrCommand
	ErrUnknown
)

var errorTypeInfo = map[ErrorType]struct {
	name   string
	advice string
}{
	ErrConfig:   {"Config", "Please check that the .env file, the profile TOML or the environment variables are set correctly"},
	ErrProvider: {"Provider", "Please check LLM_PROVIDER, LLM_API_KEY and LLM_API_URL, and that the backend is reachable"},
	ErrMemory:   {"Memory", "Please check MEMORY_BACKEND: the SQLite path must be writable and the Redis address reachable"},
	ErrTools:    {"Tools", "Please check the command tools file for duplicate names or malformed commands"},
	ErrCommand:  {"Command", "Type /help to list the available commands"},
}

func (t ErrorType) String() string {
	if info, ok := errorTypeInfo[t]; ok {
		return info.name
	}
	return "Unknown"
}

// SetupError reports a failure while wiring or driving the chatbot.
type SetupError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *SetupError {
	return &SetupError{Type: errorType, Message: message}
}

// WrapError keeps err as the cause.
func WrapError(err error, errorType ErrorType, message string) *SetupError {
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

// Error renders "[Type] message | context: k=v, ... | cause: ...". Context
// keys are sorted.
func (e *SetupError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Type, e.Message)

	if len(e.Context) > 0 {
		sb.WriteString(" | context: ")
		for i, k := range slices.Sorted(maps.Keys(e.Context)) {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&sb, " | cause: %v", e.Cause)
	}
	return sb.String()
}

func (e *SetupError) Unwrap() error {
	return e.Cause
}

func (e *SetupError) WithContext(key string, value any) *SetupError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var setupErr *SetupError
	return errors.As(err, &setupErr) && setupErr.Type == errorType
}

// ErrorHandler logs a fatal error with advice for the operator.
type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err *SetupError) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// Handle logs err and reports whether it was a SetupError.
func (h *DefaultErrorHandler) Handle(err error) bool {
	var setupErr *SetupError
	if !errors.As(err, &setupErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}
	log.Error("Error Detail: %v\n advice: %s", err, h.GetAdvice(setupErr))
	return true
}

func (h *DefaultErrorHandler) GetAdvice(err *SetupError) string {
	if info, ok := errorTypeInfo[err.Type]; ok {
		return info.advice
	}
	return "Please review detailed error information and check relevant configuration"
}

// SafeExecute runs fn and turns a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()
	return fn()
}
