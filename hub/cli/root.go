// Package cli implements the abracadabra-hub command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/abracadabra-mc/abracadabra/hub"
)

var (
	version = "dev"
	hubOpts hub.Options
)

// NewRootCmd creates the root cobra command for abracadabra-hub.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string, opts hub.Options) *cobra.Command {
	version = v
	hubOpts = opts

	root := &cobra.Command{
		Use:   "abracadabra-hub",
		Short: "Abracadabra hub · control plane for Minecraft server agents",
		Long:  "Abracadabra hub relays operator commands to connected game-server agents and streams agent events back to observers.",
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newHashPasswordCmd())
	root.AddCommand(newSimulateAgentCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}
