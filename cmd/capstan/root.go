package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Capstan CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capstan",
		Short: "Capstan - A plugin host runtime",
		Long: `Capstan hosts typed plugins behind a capability registry with
semver dependency resolution, lifecycle management, sandboxed
execution, and an inter-plugin communication bus.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewHostCmd())

	return cmd
}
