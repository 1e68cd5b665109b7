// Package registry instantiates the compiled-in tool catalog once, indexes it
// by name and answers admission questions for principals.
//
// Admission policy lives here rather than in the tools themselves: a tool
// with no required roles is public, and any other tool may be called by a
// principal holding at least one of its required roles. Anonymous callers
// only ever see public tools.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

// ErrToolCollision is returned by Load when two tools share a name.
var ErrToolCollision = errors.New("registry: tool name collision")

// RoleSource resolves the roles held by a principal. *roles.Resolver
// satisfies it.
type RoleSource interface {
	GetRoles(ctx context.Context, principal string) []string
}

// Tool is a loaded tool together with its compiled input schema.
type Tool struct {
	tools.Unit

	validator *tools.Validator
}

// ValidateArgs checks args against the tool's input schema. A failure is a
// *tools.SchemaViolation.
func (t *Tool) ValidateArgs(args json.RawMessage) error {
	return t.validator.Validate(args)
}

// Public reports whether the tool has no role requirement.
func (t *Tool) Public() bool {
	return len(t.RequiredRoles()) == 0
}

// Option configures Load.
type Option func(*loadConfig)

type loadConfig struct {
	log      *slog.Logger
	manifest *Manifest
}

// WithLogger sets the logger used during load, admission and close.
func WithLogger(l *slog.Logger) Option {
	return func(c *loadConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithManifest restricts which catalog entries are initialized.
func WithManifest(m *Manifest) Option {
	return func(c *loadConfig) { c.manifest = m }
}

// Registry is the loaded tool index. It is immutable after Load and safe
// for concurrent use.
type Registry struct {
	roles RoleSource
	log   *slog.Logger
	byKey map[string]*Tool
	order []string
}

// Load instantiates every constructor exactly once and indexes the results.
// Two tools with the same name fail the whole load. A tool whose schema does
// not compile, whose constructor panics or whose Init hook fails is logged
// and left out.
func Load(ctx context.Context, catalog []tools.Constructor, roles RoleSource, opts ...Option) (*Registry, error) {
	cfg := loadConfig{log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	units := make([]tools.Unit, 0, len(catalog))
	seen := make(map[string]struct{}, len(catalog))
	for i, ctor := range catalog {
		u, err := instantiate(ctor)
		if err != nil {
			cfg.log.ErrorContext(ctx, "registry.tool.construct_failed", slog.Int("index", i), slog.String("err", err.Error()))
			continue
		}
		if _, dup := seen[u.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrToolCollision, u.Name())
		}
		seen[u.Name()] = struct{}{}
		units = append(units, u)
	}

	if cfg.manifest != nil {
		if err := cfg.manifest.check(seen); err != nil {
			return nil, err
		}
	}

	r := &Registry{
		roles: roles,
		log:   cfg.log,
		byKey: make(map[string]*Tool, len(units)),
	}

	for _, u := range units {
		name := u.Name()
		if cfg.manifest != nil && !cfg.manifest.Allows(name) {
			r.log.InfoContext(ctx, "registry.tool.disabled", slog.String("tool", name))
			continue
		}

		v, err := tools.Compile(u.InputSchema())
		if err != nil {
			r.log.ErrorContext(ctx, "registry.tool.schema_invalid", slog.String("tool", name), slog.String("err", err.Error()))
			continue
		}

		if in, ok := u.(tools.Initializer); ok {
			if err := in.Init(ctx); err != nil {
				r.log.ErrorContext(ctx, "registry.tool.init_failed", slog.String("tool", name), slog.String("err", err.Error()))
				continue
			}
		}

		r.byKey[name] = &Tool{Unit: u, validator: v}
		r.order = append(r.order, name)
		r.log.InfoContext(ctx, "registry.tool.loaded",
			slog.String("tool", name),
			slog.Any("required_roles", u.RequiredRoles()),
		)
	}

	r.log.InfoContext(ctx, "registry.load.ok", slog.Int("tools", len(r.order)))
	return r, nil
}

// instantiate runs ctor, turning a constructor panic into an error.
func instantiate(ctor tools.Constructor) (u tools.Unit, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("constructor panicked: %v", p)
		}
	}()
	u = ctor()
	if u == nil {
		return nil, errors.New("constructor returned nil")
	}
	return u, nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.byKey[name]
	return t, ok
}

// Count reports how many tools loaded successfully.
func (r *Registry) Count() int {
	return len(r.order)
}

// Names returns the loaded tool names in catalog order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// ListFor returns the tools principal may call, in catalog order. An empty
// principal is anonymous.
func (r *Registry) ListFor(ctx context.Context, principal string) []*Tool {
	var (
		held     []string
		resolved bool
	)
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.byKey[name]
		if t.Public() {
			out = append(out, t)
			continue
		}
		if principal == "" {
			continue
		}
		if !resolved {
			held = r.roles.GetRoles(ctx, principal)
			resolved = true
		}
		if intersects(t.RequiredRoles(), held) {
			out = append(out, t)
		}
	}
	return out
}

// CanExecute reports whether principal may call the named tool. Unknown
// tools are never executable.
func (r *Registry) CanExecute(ctx context.Context, principal, name string) bool {
	t, ok := r.byKey[name]
	if !ok {
		return false
	}
	if t.Public() {
		return true
	}
	if principal == "" {
		return false
	}
	return intersects(t.RequiredRoles(), r.roles.GetRoles(ctx, principal))
}

// Close runs every tool's cleanup hook. A failing hook does not stop the
// others; all failures are returned joined.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, name := range r.order {
		c, ok := r.byKey[name].Unit.(tools.Closer)
		if !ok {
			continue
		}
		if err := c.Close(ctx); err != nil {
			r.log.ErrorContext(ctx, "registry.tool.cleanup_failed", slog.String("tool", name), slog.String("err", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func intersects(required, held []string) bool {
	for _, r := range required {
		if slices.Contains(held, r) {
			return true
		}
	}
	return false
}
