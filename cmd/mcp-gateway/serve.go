package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-gateway-go/config"
	"github.com/ggoodman/mcp-gateway-go/gateway"
	"github.com/ggoodman/mcp-gateway-go/registry"
	"github.com/ggoodman/mcp-gateway-go/sessions"
	"github.com/ggoodman/mcp-gateway-go/tools/builtin"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
	sessionPruneEvery = time.Minute
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := cfg.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *slog.Logger) (err error) {
	var cl closers
	defer func() {
		if cerr := cl.close(); cerr != nil {
			log.Error("shutdown.close_failed", slog.String("err", cerr.Error()))
		}
	}()

	sec, err := buildSecrets(ctx, cfg, log, &cl)
	if err != nil {
		return err
	}

	store, fileStore, err := buildRoleStore(ctx, cfg, log, &cl)
	if err != nil {
		return err
	}
	resolver := buildResolver(store, cfg, log)
	if fileStore != nil {
		if err := fileStore.Watch(ctx, resolver.ClearAll); err != nil {
			return err
		}
	}

	b, err := buildBroker(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	if b != nil {
		go func() {
			if err := resolver.FollowInvalidations(ctx, b); err != nil {
				log.ErrorContext(ctx, "roles.invalidation.follow_failed", slog.String("err", err.Error()))
			}
		}()
	}

	provider := buildProvider(cfg, sec, log)
	var (
		authn   gateway.Authenticator
		hdlOpts = []gateway.Option{gateway.WithLogger(log)}
	)
	if provider != nil {
		cl.add(provider.Close)
		authn = provider
		if cfg.AuthMode == config.AuthModeJWT {
			v, err := buildVerifier(ctx, cfg, log)
			if err != nil {
				return err
			}
			authn = v
		}
		hdlOpts = append(hdlOpts, gateway.WithProtectedResource(cfg.ServerURL, cfg.OIDCIssuer, serverName))
		if _, err := provider.DiscoverMetadata(ctx); err != nil {
			// Discovery is retried on demand; the gateway still serves
			// anonymous sessions meanwhile.
			log.WarnContext(ctx, "auth.discovery.startup_failed", slog.String("err", err.Error()))
		}
	} else {
		log.WarnContext(ctx, "auth.provider.unconfigured")
	}

	var regOpts []registry.Option
	regOpts = append(regOpts, registry.WithLogger(log))
	if cfg.ToolsManifest != "" {
		m, err := registry.LoadManifest(cfg.ToolsManifest)
		if err != nil {
			return err
		}
		regOpts = append(regOpts, registry.WithManifest(m))
	}
	reg, err := registry.Load(ctx, builtin.Catalog(builtin.Config{
		PostgresDSN:    cfg.ToolsPostgresDSN,
		GitAllowedRoot: cfg.GitAllowedRoot,
		Logger:         log,
	}), resolver, regOpts...)
	if err != nil {
		return err
	}
	cl.add(func() error {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return reg.Close(cctx)
	})

	sess := sessions.NewStore(sessions.WithMaxAge(cfg.SessionMaxAge))
	if cfg.SessionMaxAge > 0 {
		go pruneSessions(ctx, sess, log)
	}

	d := gateway.NewDispatcher(gateway.Config{
		Registry:      reg,
		Sessions:      sess,
		Auth:          authn,
		ServerName:    serverName,
		ServerVersion: BuildVersion,
		Logger:        log,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           gateway.NewHandler(d, hdlOpts...),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "server.listen",
			slog.String("addr", srv.Addr),
			slog.Int("tools", reg.Count()),
			slog.String("version", BuildVersion),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("server.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func pruneSessions(ctx context.Context, s *sessions.Store, log *slog.Logger) {
	t := time.NewTicker(sessionPruneEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Prune(); n > 0 {
				log.DebugContext(ctx, "sessions.pruned", slog.Int("count", n))
			}
		}
	}
}
