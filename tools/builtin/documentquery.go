package builtin

import (
	"context"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

type DocumentQueryArgs struct {
	TenantID   string         `json:"tenant_id" jsonschema:"minLength=1,description=Tenant whose documents are searched; always enforced"`
	Collection string         `json:"collection,omitempty" jsonschema:"default=documents,description=Document collection name"`
	Filter     map[string]any `json:"filter,omitempty" jsonschema:"description=JSON object the documents must contain"`
	MaxItems   int            `json:"max_items,omitempty" jsonschema:"minimum=1,maximum=100,default=10,description=Maximum number of items to return (1-100)"`
}

type DocumentQueryResult struct {
	Items             []map[string]any `json:"items"`
	Count             int              `json:"count"`
	ContinuationToken *string          `json:"continuation_token"`
}

// DocumentQuery is a tenant-scoped document search.
type DocumentQuery struct {
	Collection string
	TenantID   string
	Filter     map[string]any
	Limit      int
}

// DocumentSource runs document searches.
type DocumentSource interface {
	QueryDocuments(ctx context.Context, q DocumentQuery) ([]map[string]any, error)
}

type lifecycle interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
}

const (
	defaultCollection = "documents"
	defaultMaxItems   = 10
)

// NewDocumentQuery returns the document_query tool over src. If src also
// has Open and Close methods they run as the tool's init and cleanup hooks.
func NewDocumentQuery(src DocumentSource, log *slog.Logger) tools.Unit {
	run := func(ctx context.Context, args DocumentQueryArgs, principal string) (DocumentQueryResult, error) {
		q := DocumentQuery{
			Collection: args.Collection,
			TenantID:   args.TenantID,
			Filter:     args.Filter,
			Limit:      args.MaxItems,
		}
		if q.Collection == "" {
			q.Collection = defaultCollection
		}
		if q.Limit == 0 {
			q.Limit = defaultMaxItems
		}

		log.InfoContext(ctx, "tool.document_query.run",
			slog.String("tenant_id", q.TenantID),
			slog.String("collection", q.Collection),
			slog.String("principal", principal),
		)

		items, err := src.QueryDocuments(ctx, q)
		if err != nil {
			return DocumentQueryResult{}, err
		}
		if len(items) > q.Limit {
			items = items[:q.Limit]
		}
		if items == nil {
			items = []map[string]any{}
		}
		return DocumentQueryResult{Items: items, Count: len(items)}, nil
	}

	var opts []tools.Option
	if lc, ok := src.(lifecycle); ok {
		opts = append(opts, tools.WithInit(lc.Open), tools.WithCleanup(lc.Close))
	}

	return tools.New(tools.Spec{
		Name: "document_query",
		Description: "Query documents by tenant ID. Tenant isolation is always applied; " +
			"an optional filter object narrows the results.",
		RequiredRoles: []string{"admin", "developer"},
	}, run, opts...)
}
