package builtin

import (
	"context"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

type WhoamiArgs struct{}

type WhoamiResult struct {
	Principal string `json:"principal,omitempty" jsonschema:"description=Authenticated principal; empty for anonymous callers"`
	Anonymous bool   `json:"anonymous"`
}

// NewWhoami returns the public whoami tool.
func NewWhoami() tools.Unit {
	return tools.New(tools.Spec{
		Name:        "whoami",
		Description: "Report the principal the current session acts on behalf of.",
	}, func(_ context.Context, _ WhoamiArgs, principal string) (WhoamiResult, error) {
		return WhoamiResult{Principal: principal, Anonymous: principal == ""}, nil
	})
}
