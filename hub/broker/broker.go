// Package broker routes authenticated operator commands to connected agents
// and turns agent lifecycle messages into observer broadcasts.
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/abracadabra-mc/abracadabra/hub/audit"
	"github.com/abracadabra-mc/abracadabra/hub/registry"
	"github.com/abracadabra-mc/abracadabra/hub/transport"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// auditTimeout bounds a single audit write so a slow database never stalls a
// connection's read loop for long.
const auditTimeout = 5 * time.Second

// Sessions is the subset of the session store the broker needs.
type Sessions interface {
	Validate(token string) bool
	Touch(token string) bool
}

// Publisher fans events out to observers.
type Publisher interface {
	Publish(ev protocol.Event)
}

// Dispatch describes a command that was handed to an agent's transport. It
// says nothing about whether the agent acted on it.
type Dispatch struct {
	ServerID  string
	Command   string
	Timestamp time.Time
}

// Options configures optional broker collaborators.
type Options struct {
	Audit audit.Store      // nil disables auditing
	Now   func() time.Time // defaults to time.Now
}

// Broker implements transport.Handler and transport.ClientCommandHandler.
type Broker struct {
	sessions Sessions
	agents   *registry.Registry
	events   Publisher
	audit    audit.Store
	logger   *slog.Logger
	now      func() time.Time
}

var (
	_ transport.Handler              = (*Broker)(nil)
	_ transport.ClientCommandHandler = (*Broker)(nil)
)

// New creates a broker.
func New(sessions Sessions, agents *registry.Registry, events Publisher, logger *slog.Logger, opts Options) *Broker {
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		sessions: sessions,
		agents:   agents,
		events:   events,
		audit:    opts.Audit,
		logger:   logger.With("component", "broker"),
		now:      opts.Now,
	}
}

type remoteAddrKey struct{}

// WithRemoteAddr attaches the operator's address to ctx for audit records.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

func remoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}

// ExecuteCommand validates the session, resolves the agent and writes one
// command envelope to it. It returns as soon as the write completes; the
// agent's command-response arrives later as a broadcast. Nothing is retried.
func (b *Broker) ExecuteCommand(ctx context.Context, sessionID, serverID, command string, params json.RawMessage) (Dispatch, error) {
	if !b.sessions.Validate(sessionID) {
		return Dispatch{}, ErrNotAuthenticated
	}
	agent, ok := b.agents.Lookup(serverID)
	if !ok {
		return Dispatch{}, ErrAgentNotFound
	}
	if command == "" {
		return Dispatch{}, ErrEmptyCommand
	}
	b.sessions.Touch(sessionID)

	cmd := protocol.NewWebCommand(sessionID, command, params, b.now())
	if err := transport.SendCommand(agent.Conn, cmd); err != nil {
		b.logger.Warn("command send failed, dropping agent",
			"server_id", serverID, "conn_id", agent.Conn.ID(), "command", command, "error", err)
		b.record(ctx, &audit.Event{
			Action:      audit.ActionCommandFailed,
			ServerID:    serverID,
			SessionHash: audit.HashSession(sessionID),
			Command:     command,
			RemoteAddr:  remoteAddr(ctx),
		})
		_ = agent.Conn.Close()
		b.dropHandle(ctx, agent.Conn)
		return Dispatch{}, &TransportSendError{ServerID: serverID, Err: err}
	}

	b.logger.Info("command dispatched",
		"server_id", serverID, "command", command, "session", audit.HashSession(sessionID), "kind", agent.Kind.String())
	b.record(ctx, &audit.Event{
		Action:      audit.ActionCommandDispatch,
		ServerID:    serverID,
		SessionHash: audit.HashSession(sessionID),
		Command:     command,
		RemoteAddr:  remoteAddr(ctx),
	})
	return Dispatch{ServerID: serverID, Command: command, Timestamp: cmd.Timestamp}, nil
}

// SelectPlayer asks the agent to target playerName for later commands.
func (b *Broker) SelectPlayer(ctx context.Context, sessionID, serverID, playerName string) (Dispatch, error) {
	params, err := json.Marshal(map[string]string{"playerName": playerName})
	if err != nil {
		return Dispatch{}, err
	}
	return b.ExecuteCommand(ctx, sessionID, serverID, protocol.CommandSelectPlayer, params)
}

// OnConnect registers the agent, replacing any earlier one with the same id.
func (b *Broker) OnConnect(conn transport.Conn, msg protocol.MinecraftConnect) {
	agent := b.agents.Register(msg.ServerID, msg.ServerName, conn)

	b.logger.Info("agent connected",
		"server_id", msg.ServerID, "server_name", msg.ServerName, "conn_id", conn.ID(), "kind", conn.Kind().String())
	b.record(context.Background(), &audit.Event{
		Action:   audit.ActionAgentConnect,
		ServerID: msg.ServerID,
		Detail:   kindDetail(conn.Kind()),
	})
	b.events.Publish(protocol.Event{
		Name: protocol.EventServerConnected,
		Payload: protocol.ServerConnected{
			ServerID:    agent.ServerID,
			ServerName:  agent.DisplayName,
			ConnectedAt: agent.ConnectedAt,
		},
	})
}

// OnRosterPush stores the roster and tells observers. Pushes for ids that are
// not registered are dropped.
func (b *Broker) OnRosterPush(conn transport.Conn, msg protocol.PlayerUpdate) {
	if !b.agents.UpdateRoster(msg.ServerID, msg.Players) {
		b.logger.Debug("roster for unknown server ignored", "server_id", msg.ServerID, "conn_id", conn.ID())
		return
	}
	b.events.Publish(protocol.Event{
		Name:    protocol.EventPlayersUpdated,
		Payload: protocol.PlayersUpdated{ServerID: msg.ServerID, Players: msg.Players},
	})
}

// OnCommandResult relays an agent's command-response to every observer,
// stamped with the hub's clock.
func (b *Broker) OnCommandResult(conn transport.Conn, msg protocol.CommandResponse) {
	b.logger.Debug("command result", "conn_id", conn.ID(), "session", audit.HashSession(msg.SessionID), "success", msg.Success)
	b.events.Publish(protocol.Event{
		Name: protocol.EventCommandResult,
		Payload: protocol.CommandResult{
			SessionID: msg.SessionID,
			Response:  msg.Response,
			Success:   msg.Success,
			Timestamp: b.now().UTC(),
		},
	})
}

// OnDisconnect removes every agent still bound to conn. A handle that was
// replaced by a newer connection owns nothing and produces no broadcast.
func (b *Broker) OnDisconnect(conn transport.Conn) {
	b.dropHandle(context.Background(), conn)
}

// OnClientCommand handles execute-command from an observer socket. Failures
// are reported to that socket only.
func (b *Broker) OnClientCommand(conn transport.Conn, msg protocol.ExecuteCommand) {
	_, err := b.ExecuteCommand(context.Background(), msg.SessionID, msg.ServerID, msg.Command, msg.Params)
	if err == nil {
		return
	}
	em, ok := conn.(transport.Emitter)
	if !ok {
		return
	}
	if emitErr := em.Emit(protocol.EventCommandError, protocol.CommandError{Error: PublicMessage(err)}); emitErr != nil {
		b.logger.Debug("command-error delivery failed", "conn_id", conn.ID(), "error", emitErr)
	}
}

func (b *Broker) dropHandle(ctx context.Context, conn transport.Conn) {
	for {
		serverID, ok := b.agents.UnregisterByHandle(conn)
		if !ok {
			return
		}
		b.logger.Info("agent disconnected", "server_id", serverID, "conn_id", conn.ID())
		b.record(ctx, &audit.Event{
			Action:   audit.ActionAgentDisconnect,
			ServerID: serverID,
			Detail:   kindDetail(conn.Kind()),
		})
		b.events.Publish(protocol.Event{
			Name:    protocol.EventServerDisconnected,
			Payload: protocol.ServerDisconnected{ServerID: serverID},
		})
	}
}

// record writes an audit event. Failures are logged and otherwise ignored.
func (b *Broker) record(ctx context.Context, event *audit.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := b.audit.Log(ctx, event); err != nil {
		b.logger.Warn("audit write failed", "action", event.Action, "error", err)
	}
}

func kindDetail(k transport.Kind) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"transport": k.String()})
	return data
}
