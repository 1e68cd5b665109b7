// Package tools defines the contract every gateway tool implements and the
// helpers used to build tools from typed Go functions.
//
// A tool is self-describing: it carries its name, a description, JSON Schemas
// for its input and (optionally) output, and the set of roles allowed to call
// it. Admission is not the tool's concern; the registry decides who may call
// what from RequiredRoles.
package tools

import (
	"context"
	"encoding/json"
)

// Unit is one independently invokable operation.
type Unit interface {
	// Name is the globally unique, stable identifier of the tool.
	Name() string
	Description() string
	// InputSchema is the JSON Schema arguments must satisfy.
	InputSchema() json.RawMessage
	// OutputSchema describes the result, or nil when the result is
	// unstructured.
	OutputSchema() json.RawMessage
	// RequiredRoles lists the roles that may call the tool. Holding any one
	// of them is sufficient. An empty list makes the tool public.
	RequiredRoles() []string
	// Execute runs the tool with arguments that already passed InputSchema
	// validation. principal is empty for anonymous callers.
	Execute(ctx context.Context, args json.RawMessage, principal string) (any, error)
}

// Initializer is implemented by tools that need setup before first use. A
// tool whose Init fails is not registered.
type Initializer interface {
	Init(ctx context.Context) error
}

// Closer is implemented by tools that hold resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Constructor builds a tool. A catalog is a list of constructors.
type Constructor func() Unit
