package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
)

// Spec carries the static description of a typed tool.
type Spec struct {
	Name          string
	Description   string
	RequiredRoles []string

	// AllowAdditionalProperties lets callers pass fields A does not declare.
	AllowAdditionalProperties bool
}

// Option configures a typed tool.
type Option func(*hooks)

type hooks struct {
	init    func(ctx context.Context) error
	cleanup func(ctx context.Context) error
}

// WithInit registers a setup hook run once when the tool is loaded.
func WithInit(fn func(ctx context.Context) error) Option {
	return func(h *hooks) { h.init = fn }
}

// WithCleanup registers a hook run when the registry closes.
func WithCleanup(fn func(ctx context.Context) error) Option {
	return func(h *hooks) { h.cleanup = fn }
}

// Typed is a Unit built from a function over typed arguments A and result O.
type Typed[A, O any] struct {
	spec   Spec
	input  json.RawMessage
	output json.RawMessage
	fn     func(ctx context.Context, args A, principal string) (O, error)
	hooks  hooks
}

var (
	_ Unit        = (*Typed[struct{}, struct{}])(nil)
	_ Initializer = (*Typed[struct{}, struct{}])(nil)
	_ Closer      = (*Typed[struct{}, struct{}])(nil)
)

// New builds a tool whose input schema is reflected from A and whose output
// schema is reflected from O when O is a struct.
func New[A, O any](spec Spec, fn func(ctx context.Context, args A, principal string) (O, error), opts ...Option) *Typed[A, O] {
	t := &Typed[A, O]{
		spec:  spec,
		input: ReflectSchema[A](spec.AllowAdditionalProperties),
		fn:    fn,
	}
	if isStructured[O]() {
		t.output = ReflectSchema[O](true)
	}
	for _, opt := range opts {
		opt(&t.hooks)
	}
	return t
}

func (t *Typed[A, O]) Name() string                  { return t.spec.Name }
func (t *Typed[A, O]) Description() string           { return t.spec.Description }
func (t *Typed[A, O]) InputSchema() json.RawMessage  { return t.input }
func (t *Typed[A, O]) OutputSchema() json.RawMessage { return t.output }
func (t *Typed[A, O]) RequiredRoles() []string       { return slices.Clone(t.spec.RequiredRoles) }

// Execute decodes args into A and calls the tool function. A decoding
// failure is reported as a *SchemaViolation.
func (t *Typed[A, O]) Execute(ctx context.Context, args json.RawMessage, principal string) (any, error) {
	var a A
	if trimmed := bytes.TrimSpace(args); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		if !t.spec.AllowAdditionalProperties {
			dec.DisallowUnknownFields()
		}
		if err := dec.Decode(&a); err != nil {
			return nil, &SchemaViolation{Err: err}
		}
	}
	return t.fn(ctx, a, principal)
}

// Init runs the WithInit hook, if any.
func (t *Typed[A, O]) Init(ctx context.Context) error {
	if t.hooks.init == nil {
		return nil
	}
	return t.hooks.init(ctx)
}

// Close runs the WithCleanup hook, if any.
func (t *Typed[A, O]) Close(ctx context.Context) error {
	if t.hooks.cleanup == nil {
		return nil
	}
	return t.hooks.cleanup(ctx)
}
