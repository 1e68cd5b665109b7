package main

import "github.com/spf13/cobra"

// BuildVersion is set at link time with -ldflags "-X main.BuildVersion=...".
var BuildVersion = "dev"

const serverName = "mcp-gateway"

var rootCmd = &cobra.Command{
	Use:           serverName,
	Short:         "Role-gated tool gateway",
	Long:          "Serves a catalog of tools to authenticated clients, gating discovery and execution on roles resolved for each principal.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newRolesCommand())
}
