package roles

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/ggoodman/mcp-gateway-go/internal/ttlcache"
)

// DefaultTTL is how long a resolved role set is reused.
const DefaultTTL = 10 * time.Minute

// Option configures a Resolver.
type Option func(*resolverConfig)

type resolverConfig struct {
	store       Store
	ttl         time.Duration
	defaultRole string
	timeout     time.Duration
	log         *slog.Logger
	now         func() time.Time
}

// WithStore sets the role store. Without one every authenticated principal
// resolves to the default role.
func WithStore(s Store) Option {
	return func(c *resolverConfig) { c.store = s }
}

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *resolverConfig) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithDefaultRole overrides DefaultRole. An empty role disables the grant so
// unprovisioned principals resolve to no roles.
func WithDefaultRole(role string) Option {
	return func(c *resolverConfig) { c.defaultRole = role }
}

// WithLookupTimeout bounds each store query. Default: 3s.
func WithLookupTimeout(d time.Duration) Option {
	return func(c *resolverConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *resolverConfig) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock overrides the cache clock.
func WithClock(now func() time.Time) Option {
	return func(c *resolverConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Resolver maps principals to role sets. It is safe for concurrent use.
type Resolver struct {
	store       Store
	defaultRole string
	timeout     time.Duration
	log         *slog.Logger
	cache       *ttlcache.Cache[string, []string]
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	cfg := resolverConfig{
		ttl:         DefaultTTL,
		defaultRole: DefaultRole,
		timeout:     3 * time.Second,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Resolver{
		store:       cfg.store,
		defaultRole: cfg.defaultRole,
		timeout:     cfg.timeout,
		log:         cfg.log,
		cache:       ttlcache.New[string, []string](cfg.ttl, ttlcache.WithClock(cfg.now)),
	}
}

// GetRoles returns the roles held by principal. An empty principal is
// anonymous and always has no roles. The returned slice is owned by the
// caller.
func (r *Resolver) GetRoles(ctx context.Context, principal string) []string {
	if principal == "" {
		return nil
	}

	if roles, ok := r.cache.Get(principal); ok {
		r.log.DebugContext(ctx, "roles.cache.hit", slog.String("principal", principal), slog.Any("roles", roles))
		return slices.Clone(roles)
	}

	if r.store == nil {
		r.log.WarnContext(ctx, "roles.store.unconfigured", slog.String("principal", principal))
		return r.remember(principal, r.defaults())
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc, err := r.store.Lookup(lctx, principal)
	switch {
	case errors.Is(err, ErrNotFound):
		r.log.WarnContext(ctx, "roles.lookup.not_found", slog.String("principal", principal))
		return r.remember(principal, r.defaults())
	case err != nil:
		r.log.ErrorContext(ctx, "roles.lookup.fail", slog.String("principal", principal), slog.String("err", err.Error()))
		return []string{}
	}

	roles, ok := Extract(doc)
	if !ok {
		r.log.ErrorContext(ctx, "roles.lookup.malformed", slog.String("principal", principal))
	}
	r.log.InfoContext(ctx, "roles.lookup.ok", slog.String("principal", principal), slog.Any("roles", roles))
	return r.remember(principal, roles)
}

func (r *Resolver) remember(principal string, roles []string) []string {
	r.cache.Set(principal, roles)
	return slices.Clone(roles)
}

func (r *Resolver) defaults() []string {
	if r.defaultRole == "" {
		return []string{}
	}
	return []string{r.defaultRole}
}

// Clear drops the cached role set for one principal.
func (r *Resolver) Clear(principal string) {
	r.cache.Delete(principal)
}

// ClearAll drops every cached role set.
func (r *Resolver) ClearAll() {
	r.cache.Purge()
}

// SetTTL replaces the cache TTL for subsequent lookups.
func (r *Resolver) SetTTL(d time.Duration) {
	r.cache.SetTTL(d)
	r.log.Info("roles.cache.ttl_updated", slog.Duration("ttl", d))
}

// TTL returns the current cache TTL.
func (r *Resolver) TTL() time.Duration {
	return r.cache.TTL()
}
