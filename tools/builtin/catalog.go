package builtin

import (
	"errors"
	"log/slog"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

// ErrNotConfigured is returned by a tool whose backend was not configured.
var ErrNotConfigured = errors.New("backend not configured")

// Config supplies backends to the built-in tools.
type Config struct {
	// PostgresDSN backs document_query and resource_list.
	PostgresDSN string
	// GitAllowedRoot confines git_status to repositories under this path.
	GitAllowedRoot string
	Logger         *slog.Logger
}

// Catalog returns one constructor per built-in tool. The registry
// instantiates each exactly once.
func Catalog(cfg Config) []tools.Constructor {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	pg := newPostgresSource(cfg.PostgresDSN)
	return []tools.Constructor{
		func() tools.Unit { return NewWhoami() },
		func() tools.Unit { return NewGitStatus(cfg.GitAllowedRoot, log) },
		func() tools.Unit { return NewDocumentQuery(pg, log) },
		func() tools.Unit { return NewResourceList(pg, log) },
	}
}
