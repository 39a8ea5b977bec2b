package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidJSON is returned when a payload is not well-formed JSON.
var ErrInvalidJSON = errors.New("invalid JSON payload")

// Schema is a compiled JSON schema reflected from a Go type.
// It is immutable after construction and safe for concurrent use.
type Schema struct {
	name     string
	raw      map[string]any
	compiled *gojsonschema.Schema
}

// ValidationError lists every schema violation found in a payload.
type ValidationError struct {
	Schema string
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s does not match schema: %s", e.Schema, strings.Join(e.Issues, "; "))
}

// Validator is implemented by contracts carrying rules a JSON schema cannot express.
type Validator interface {
	Validate() error
}

// For reflects and compiles the schema of T.
func For[T any]() (*Schema, error) {
	var zero T
	return FromType(reflect.TypeOf(zero))
}

// MustFor is For that panics on error. Use it for package-level contracts.
func MustFor[T any]() *Schema {
	s, err := For[T]()
	if err != nil {
		panic(err)
	}
	return s
}

// FromType reflects and compiles the schema of t. Pointer types are dereferenced.
func FromType(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, fmt.Errorf("schema type must not be nil")
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema type %s must be a struct", t)
	}

	reflector := &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	reflected := reflector.ReflectFromType(t)

	data, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", t.Name(), err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", t.Name(), err)
	}
	delete(raw, "$schema")
	delete(raw, "$id")
	if _, ok := raw["properties"]; !ok {
		raw["properties"] = map[string]any{}
	}

	return Compile(t.Name(), raw)
}

// Compile builds a Schema from an already-decoded JSON schema document.
func Compile(name string, raw map[string]any) (*Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, raw: raw, compiled: compiled}, nil
}

func (s *Schema) Name() string {
	return s.name
}

// Map returns a shallow copy of the schema document.
func (s *Schema) Map() map[string]any {
	return maps.Clone(s.raw)
}

// JSON returns the schema document encoded as JSON.
func (s *Schema) JSON() json.RawMessage {
	data, err := json.Marshal(s.raw)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// Validate checks a raw JSON payload against the schema.
func (s *Schema) Validate(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s", ErrInvalidJSON, truncate(string(data), 200))
	}
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate %s: %w", s.name, err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return &ValidationError{Schema: s.name, Issues: issues}
}

// ValidateValue encodes v and validates it, then runs v's own Validate
// method when it implements Validator.
func (s *Schema) ValidateValue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.name, err)
	}
	if err := s.Validate(data); err != nil {
		return err
	}
	if validator, ok := v.(Validator); ok {
		return validator.Validate()
	}
	return nil
}

// Decode validates data against the schema and unmarshals it into T.
func Decode[T any](s *Schema, data []byte) (T, error) {
	var out T
	if err := s.Validate(data); err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", s.name, err)
	}
	if validator, ok := any(&out).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return out, err
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
