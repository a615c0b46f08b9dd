package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/abracadabra-mc/abracadabra/hub/tui/watch"
	"github.com/abracadabra-mc/abracadabra/pkg/client"
)

func newWatchCmd() *cobra.Command {
	var (
		url           string
		tlsSkipVerify bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal view of connected servers and hub events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			servers, err := client.ListServers(listCtx, url, tlsSkipVerify)
			cancel()
			if err != nil {
				return fmt.Errorf("query hub: %w", err)
			}

			// The alt screen owns the terminal, so client logs are dropped.
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			obs, err := client.DialObserver(ctx, url, tlsSkipVerify, logger)
			if err != nil {
				return fmt.Errorf("connect to hub: %w", err)
			}
			defer func() { _ = obs.Close() }()

			return watch.Run(ctx, obs, url, servers)
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:3000", "hub base URL")
	cmd.Flags().BoolVar(&tlsSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification")
	return cmd
}
