package builtin

import (
	"context"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

type ResourceListArgs struct {
	ResourceGroup string `json:"resource_group,omitempty" jsonschema:"description=Only list resources in this group"`
	ResourceType  string `json:"resource_type,omitempty" jsonschema:"description=Only list resources of this type"`
}

type Resource struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Location      string  `json:"location"`
	ResourceGroup *string `json:"resource_group"`
}

type ResourceListResult struct {
	Resources []Resource `json:"resources"`
	Count     int        `json:"count"`
}

// ResourceQuery filters a resource listing. Empty fields match everything.
type ResourceQuery struct {
	ResourceGroup string
	ResourceType  string
}

// ResourceSource lists cloud resources.
type ResourceSource interface {
	ListResources(ctx context.Context, q ResourceQuery) ([]Resource, error)
}

// NewResourceList returns the admin-only resource_list tool over src.
func NewResourceList(src ResourceSource, log *slog.Logger) tools.Unit {
	run := func(ctx context.Context, args ResourceListArgs, principal string) (ResourceListResult, error) {
		log.InfoContext(ctx, "tool.resource_list.run",
			slog.String("resource_group", args.ResourceGroup),
			slog.String("resource_type", args.ResourceType),
			slog.String("principal", principal),
		)
		res, err := src.ListResources(ctx, ResourceQuery(args))
		if err != nil {
			return ResourceListResult{}, err
		}
		if res == nil {
			res = []Resource{}
		}
		return ResourceListResult{Resources: res, Count: len(res)}, nil
	}

	var opts []tools.Option
	if lc, ok := src.(lifecycle); ok {
		opts = append(opts, tools.WithInit(lc.Open), tools.WithCleanup(lc.Close))
	}

	return tools.New(tools.Spec{
		Name:          "resource_list",
		Description:   "List cloud resources, optionally filtered by resource group and type.",
		RequiredRoles: []string{"admin"},
	}, run, opts...)
}
