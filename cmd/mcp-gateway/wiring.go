package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/mcp-gateway-go/auth"
	"github.com/ggoodman/mcp-gateway-go/broker"
	brokerredis "github.com/ggoodman/mcp-gateway-go/broker/redis"
	"github.com/ggoodman/mcp-gateway-go/config"
	"github.com/ggoodman/mcp-gateway-go/internal/jwtauth"
	"github.com/ggoodman/mcp-gateway-go/roles"
	rolesfile "github.com/ggoodman/mcp-gateway-go/roles/file"
	rolesmemory "github.com/ggoodman/mcp-gateway-go/roles/memory"
	rolespostgres "github.com/ggoodman/mcp-gateway-go/roles/postgres"
	rolesredis "github.com/ggoodman/mcp-gateway-go/roles/redis"
	"github.com/ggoodman/mcp-gateway-go/secrets"
	"github.com/ggoodman/mcp-gateway-go/storage"
	storagememory "github.com/ggoodman/mcp-gateway-go/storage/memory"
	storageredis "github.com/ggoodman/mcp-gateway-go/storage/redis"
	"github.com/redis/go-redis/v9"
)

const (
	secretsMaxItems   = 1024
	secretsSweepEvery = time.Minute
)

// closers collects shutdown hooks run in reverse order.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// buildSecrets returns nil when secrets are disabled.
func buildSecrets(ctx context.Context, cfg *config.Config, log *slog.Logger, cl *closers) (*secrets.Store, error) {
	var backend storage.Storage
	switch cfg.SecretsBackend {
	case config.BackendNone:
		return nil, nil
	case config.BackendRedis:
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("secrets: redis ping: %w", err)
		}
		s, err := storageredis.New(storageredis.Config{Client: client})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		backend = s
	default:
		s, err := storagememory.New(secretsMaxItems, secretsSweepEvery)
		if err != nil {
			return nil, err
		}
		backend = s
	}

	if cfg.SecretsAgeIdentity == "" {
		log.WarnContext(ctx, "secrets.identity.ephemeral")
	}
	store, err := secrets.New(backend, cfg.SecretsAgeIdentity)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	cl.add(store.Close)
	return store, nil
}

// buildRoleStore returns a nil store when roles are disabled, which makes the
// resolver grant the default role to every authenticated principal.
func buildRoleStore(ctx context.Context, cfg *config.Config, log *slog.Logger, cl *closers) (roles.Store, *rolesfile.Store, error) {
	switch cfg.RolesBackend {
	case config.BackendMemory:
		return rolesmemory.New(), nil, nil
	case config.BackendPostgres:
		s, err := rolespostgres.New(ctx, cfg.RolesPostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, err
		}
		cl.add(func() error { s.Close(); return nil })
		return s, nil, nil
	case config.BackendRedis:
		client := newRedisClient(cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("roles: redis ping: %w", err)
		}
		cl.add(client.Close)
		s, err := rolesredis.New(rolesredis.Config{Client: client})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case config.BackendFile:
		s, err := rolesfile.Open(cfg.RolesFile, log)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, nil
}

func buildResolver(store roles.Store, cfg *config.Config, log *slog.Logger) *roles.Resolver {
	opts := []roles.Option{
		roles.WithTTL(cfg.RolesCacheTTL),
		roles.WithDefaultRole(cfg.EffectiveDefaultRole()),
		roles.WithLogger(log),
	}
	if store != nil {
		opts = append(opts, roles.WithStore(store))
	}
	return roles.NewResolver(opts...)
}

// buildProvider returns nil when no issuer is configured.
func buildProvider(cfg *config.Config, sec *secrets.Store, log *slog.Logger) *auth.Provider {
	if cfg.OIDCIssuer == "" {
		return nil
	}
	pc := auth.Config{
		Issuer:        cfg.OIDCIssuer,
		ServerURL:     cfg.ServerURL,
		SecretPrefix:  cfg.SecretNamePrefix,
		HTTPTimeout:   cfg.OIDCHTTPTimeout,
		RefreshBudget: cfg.RefreshLatencyBudget,
		Logger:        log,
	}
	if sec != nil {
		pc.Secrets = sec
	}
	return auth.NewProvider(pc)
}

func buildVerifier(ctx context.Context, cfg *config.Config, log *slog.Logger) (*jwtauth.Verifier, error) {
	return jwtauth.New(ctx, jwtauth.Config{
		Issuer:       cfg.OIDCIssuer,
		Audiences:    cfg.Audiences(),
		JWKSURL:      cfg.OIDCJWKSURL,
		Leeway:       cfg.JWTLeeway,
		AllowUntyped: cfg.JWTAllowUntyped,
		Logger:       log,
	})
}

// buildBroker returns nil when no broker is configured.
func buildBroker(ctx context.Context, cfg *config.Config, cl *closers) (broker.Broker, error) {
	if cfg.BrokerBackend != config.BackendRedis {
		return nil, nil
	}
	client := newRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: redis ping: %w", err)
	}
	cl.add(client.Close)
	b, err := brokerredis.New(brokerredis.Config{Client: client})
	if err != nil {
		return nil, err
	}
	return b, nil
}
