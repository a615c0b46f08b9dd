package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abracadabra-mc/abracadabra/hub/config"
	"github.com/abracadabra-mc/abracadabra/pkg/client"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

type simulateOptions struct {
	url           string
	serverID      string
	name          string
	protocol      string
	players       string
	reconnect     time.Duration
	tlsSkipVerify bool
	logFormat     string
}

func newSimulateAgentCmd() *cobra.Command {
	var o simulateOptions
	cmd := &cobra.Command{
		Use:   "simulate-agent",
		Short: "Connect a fake game-server agent that acknowledges every command",
		Long:  "Connect a fake game-server agent to a hub. It publishes a fixed roster and answers each command with a successful command-response, which is enough to try the web UI without a Minecraft server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := newLogger(config.LoggingConfig{Level: "info", Format: o.logFormat}, os.Stderr)
			return runSimulateAgent(ctx, o, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.url, "url", "http://localhost:3000", "hub base URL")
	f.StringVar(&o.serverID, "server-id", "sim-1", "server id to register as")
	f.StringVar(&o.name, "name", "Simulated Server", "display name")
	f.StringVar(&o.protocol, "protocol", string(client.ProtocolRaw), "framing: raw or events")
	f.StringVar(&o.players, "players", "Steve,Alex", "comma-separated player names")
	f.DurationVar(&o.reconnect, "reconnect", 5*time.Second, "delay between reconnect attempts")
	f.BoolVar(&o.tlsSkipVerify, "tls-skip-verify", false, "skip TLS certificate verification")
	f.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	return cmd
}

func runSimulateAgent(ctx context.Context, o simulateOptions, logger *slog.Logger) error {
	proto, err := client.ParseProtocol(o.protocol)
	if err != nil {
		return err
	}

	var agent *client.Agent
	agent, err = client.NewAgent(client.AgentConfig{
		URL:               o.url,
		Protocol:          proto,
		ServerID:          o.serverID,
		ServerName:        o.name,
		ReconnectInterval: o.reconnect,
		TLSSkipVerify:     o.tlsSkipVerify,
	}, func(cmd protocol.WebCommand) {
		logger.Info("command received", "session_id", cmd.SessionID, "command", cmd.Command, "params", string(cmd.Params))
		if err := agent.Respond(acknowledge(cmd)); err != nil {
			logger.Warn("respond failed", "error", err)
		}
	}, logger)
	if err != nil {
		return err
	}

	if err := agent.UpdatePlayers(rosterFromNames(o.players)); err != nil && !errors.Is(err, client.ErrNotConnected) {
		return err
	}

	logger.Info("simulated agent starting", "url", o.url, "server_id", o.serverID, "protocol", proto)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// acknowledge builds the successful response a simulated server returns.
func acknowledge(cmd protocol.WebCommand) protocol.CommandResponse {
	body, _ := json.Marshal(map[string]any{
		"command": cmd.Command,
		"message": fmt.Sprintf("simulated %s executed", cmd.Command),
	})
	return protocol.CommandResponse{SessionID: cmd.SessionID, Response: body, Success: true}
}

func rosterFromNames(names string) []json.RawMessage {
	roster := []json.RawMessage{}
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		entry, _ := json.Marshal(map[string]string{"name": name})
		roster = append(roster, entry)
	}
	return roster
}
