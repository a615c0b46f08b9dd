package cli

import (
	"github.com/spf13/cobra"

	"github.com/abracadabra-mc/abracadabra/hub/wizard"
	"github.com/abracadabra-mc/abracadabra/pkg/cli"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard to generate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			defaults, _ := cmd.Flags().GetBool("defaults")

			w := wizard.New(prompter(cmd))
			if defaults {
				return w.RunDefaults(output)
			}
			return w.Run(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: "+wizard.DefaultOutput+")")
	cmd.Flags().Bool("defaults", false, "generate config non-interactively from environment variables")
	return cmd
}

// prompter reads from the command's input so tests can script answers.
func prompter(cmd *cobra.Command) *cli.Prompter {
	return &cli.Prompter{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
}
