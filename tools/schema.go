package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	gjs "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
)

// SchemaViolation reports arguments that do not satisfy a tool's input
// schema. It is a caller error the caller can recover from by retrying with
// corrected arguments.
type SchemaViolation struct {
	Err error
}

func (e *SchemaViolation) Error() string { return "invalid arguments: " + e.Err.Error() }
func (e *SchemaViolation) Unwrap() error { return e.Err }

// ReflectSchema builds a JSON Schema for T from its json and jsonschema
// struct tags. Fields without omitempty are required. Unless allowAdditional
// is set, unknown properties are rejected. Unnamed types such as struct{}
// and anonymous structs are supported; everything is inlined.
func ReflectSchema[T any](allowAdditional bool) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: allowAdditional,
	}
	s := r.Reflect(new(T))
	s.Version = ""
	s.ID = ""

	b, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas only contain marshalable values.
		panic(fmt.Sprintf("tools: marshal reflected schema: %v", err))
	}
	return b
}

// isStructured reports whether T reflects to an object schema.
func isStructured[T any]() bool {
	t := reflect.TypeFor[T]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// Validator checks argument documents against a compiled schema.
type Validator struct {
	resolved *gjs.Resolved
}

// Compile parses and resolves a JSON Schema.
func Compile(schema json.RawMessage) (*Validator, error) {
	var s gjs.Schema
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil, fmt.Errorf("tools: parse schema: %w", err)
	}
	resolved, err := s.Resolve(&gjs.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("tools: resolve schema: %w", err)
	}
	return &Validator{resolved: resolved}, nil
}

// Validate checks args, a JSON object. Absent or null args are treated as an
// empty object. The returned error is always a *SchemaViolation.
func (v *Validator) Validate(args json.RawMessage) error {
	var instance any = map[string]any{}
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, &instance); err != nil {
			return &SchemaViolation{Err: fmt.Errorf("arguments are not valid JSON: %w", err)}
		}
	}
	if _, ok := instance.(map[string]any); !ok {
		return &SchemaViolation{Err: errors.New("arguments must be a JSON object")}
	}
	if err := v.resolved.Validate(instance); err != nil {
		return &SchemaViolation{Err: err}
	}
	return nil
}
