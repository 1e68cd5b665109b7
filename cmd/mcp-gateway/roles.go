package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ggoodman/mcp-gateway-go/config"
	"github.com/ggoodman/mcp-gateway-go/roles"
	"github.com/spf13/cobra"
)

func newRolesCommand() *cobra.Command {
	rolesCmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect role resolution",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var asJSON bool
	getCmd := &cobra.Command{
		Use:   "get <principal>",
		Short: "Resolve the roles of a principal through the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := cfg.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return getRoles(cmd.Context(), cfg, log, args[0], asJSON, cmd.OutOrStdout())
		},
	}
	getCmd.Flags().BoolVar(&asJSON, "json", false, "Print the roles as a JSON array")

	var all bool
	invalidateCmd := &cobra.Command{
		Use:   "invalidate [principal]",
		Short: "Drop cached roles on every gateway node following the broker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			inv := roles.Invalidation{All: all}
			if len(args) == 1 {
				inv.Principal = args[0]
			}
			if err := invalidateRoles(cmd.Context(), cfg, inv); err != nil {
				return err
			}
			cmd.Println("invalidation published")
			return nil
		},
	}
	invalidateCmd.Flags().BoolVar(&all, "all", false, "Drop every cached role set")

	rolesCmd.AddCommand(getCmd, invalidateCmd)
	return rolesCmd
}

func getRoles(ctx context.Context, cfg *config.Config, log *slog.Logger, principal string, asJSON bool, out io.Writer) (err error) {
	var cl closers
	defer func() {
		if cerr := cl.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	store, _, err := buildRoleStore(ctx, cfg, log, &cl)
	if err != nil {
		return err
	}
	got := buildResolver(store, cfg, log).GetRoles(ctx, principal)
	if got == nil {
		got = []string{}
	}

	if asJSON {
		return json.NewEncoder(out).Encode(got)
	}
	_, err = io.WriteString(out, strings.Join(got, "\n")+"\n")
	return err
}

func invalidateRoles(ctx context.Context, cfg *config.Config, inv roles.Invalidation) (err error) {
	var cl closers
	defer func() {
		if cerr := cl.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	b, err := buildBroker(ctx, cfg, &cl)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("roles invalidate: BROKER_BACKEND=%s cannot reach other nodes", cfg.BrokerBackend)
	}
	return roles.PublishInvalidation(ctx, b, inv)
}
