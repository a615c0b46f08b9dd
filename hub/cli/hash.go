package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abracadabra-mc/abracadabra/hub/auth"
	"github.com/abracadabra-mc/abracadabra/hub/config"
)

const minPasswordLen = 10

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash an operator password for auth.password_hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prompter(cmd)
			pw, err := p.AskNewPassword("Password", minPasswordLen)
			if err != nil {
				return err
			}
			if config.IsWeakPassword(pw) {
				return fmt.Errorf("that password is on the weak list, choose another")
			}
			hash, err := auth.HashPassword(pw)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\nAdd it to the config as:\n  \"auth\": {\"password_hash\": %q}\n", hash, hash)
			return nil
		},
	}
}
