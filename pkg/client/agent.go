package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// DefaultReconnectInterval is the pause between agent connection attempts.
const DefaultReconnectInterval = 5 * time.Second

// AgentConfig configures an Agent.
type AgentConfig struct {
	URL               string   // hub base URL, or a full /ws/ URL
	Protocol          Protocol // defaults to ProtocolRaw
	ServerID          string
	ServerName        string
	ReconnectInterval time.Duration
	TLSSkipVerify     bool
}

// CommandHandler processes a web-command delivered by the hub. It runs on
// the read goroutine, so slow handlers delay later commands.
type CommandHandler func(cmd protocol.WebCommand)

// Agent maintains an agent connection to the hub, reconnecting after
// failures and re-announcing itself and its last roster each time.
type Agent struct {
	cfg     AgentConfig
	url     string
	handler CommandHandler
	logger  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	ready   chan struct{} // closed while connected
	players []json.RawMessage
}

// NewAgent creates an agent client. Call Run to connect.
func NewAgent(cfg AgentConfig, handler CommandHandler, logger *slog.Logger) (*Agent, error) {
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("server id is required")
	}
	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolRaw
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	u, err := WebSocketURL(cfg.URL, cfg.Protocol.path())
	if err != nil {
		return nil, err
	}
	if handler == nil {
		handler = func(protocol.WebCommand) {}
	}
	return &Agent{
		cfg:     cfg,
		url:     u,
		handler: handler,
		logger:  logger.With("component", "agent-client", "server_id", cfg.ServerID),
		ready:   make(chan struct{}),
	}, nil
}

// Run connects to the hub and processes commands until ctx is canceled.
// Lost connections are retried every ReconnectInterval.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.connectOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("connection failed", "error", err)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Info("reconnecting", "delay", a.cfg.ReconnectInterval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.cfg.ReconnectInterval):
		}
	}
}

func (a *Agent) connectOnce(ctx context.Context) error {
	conn, err := dial(ctx, a.url, a.cfg.TLSSkipVerify)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	a.mu.Lock()
	a.conn = conn
	players := a.players
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.conn = nil
		select {
		case <-a.ready:
			a.ready = make(chan struct{})
		default:
		}
		a.mu.Unlock()
		_ = conn.Close()
	}()

	hello := protocol.MinecraftConnect{ServerID: a.cfg.ServerID, ServerName: a.cfg.ServerName}
	if err := a.send(protocol.TypeMinecraftConnect, hello); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	if players != nil {
		if err := a.send(protocol.TypePlayerUpdate, protocol.PlayerUpdate{ServerID: a.cfg.ServerID, Players: players}); err != nil {
			return fmt.Errorf("send roster: %w", err)
		}
	}

	a.mu.Lock()
	close(a.ready)
	a.mu.Unlock()
	a.logger.Info("connected to hub", "url", a.url, "protocol", string(a.cfg.Protocol))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		cmd, ok, err := a.decodeCommand(msg)
		if err != nil {
			a.logger.Warn("invalid message from hub", "error", err)
			continue
		}
		if ok {
			a.handler(cmd)
		}
	}
}

// decodeCommand extracts a web-command from a frame. Other frames, such as
// the broadcasts every event socket receives, are skipped.
func (a *Agent) decodeCommand(msg []byte) (protocol.WebCommand, bool, error) {
	var cmd protocol.WebCommand
	if a.cfg.Protocol == ProtocolEvents {
		var f protocol.EventFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			return cmd, false, err
		}
		if f.Event != protocol.TypeWebCommand {
			return cmd, false, nil
		}
		msg = f.Data
	}
	if err := json.Unmarshal(msg, &cmd); err != nil {
		return cmd, false, err
	}
	if a.cfg.Protocol == ProtocolRaw && cmd.Type != protocol.TypeWebCommand {
		return cmd, false, nil
	}
	cmd.Type = protocol.TypeWebCommand
	return cmd, true, nil
}

// WaitConnected blocks until the connect frame has been written. The hub may
// not have registered the agent yet; observers learn that from the
// server-connected broadcast.
func (a *Agent) WaitConnected(ctx context.Context) error {
	a.mu.Lock()
	ready := a.ready
	a.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpdatePlayers replaces the roster and pushes it when connected. The roster
// is re-sent automatically after every reconnect.
func (a *Agent) UpdatePlayers(players []json.RawMessage) error {
	if players == nil {
		players = []json.RawMessage{}
	}
	a.mu.Lock()
	a.players = players
	a.mu.Unlock()
	return a.send(protocol.TypePlayerUpdate, protocol.PlayerUpdate{ServerID: a.cfg.ServerID, Players: players})
}

// Respond reports the outcome of a command.
func (a *Agent) Respond(resp protocol.CommandResponse) error {
	return a.send(protocol.TypeCommandResponse, resp)
}

func (a *Agent) send(msgType string, payload any) error {
	var (
		data []byte
		err  error
	)
	if a.cfg.Protocol == ProtocolEvents {
		data, err = protocol.NamedFrame(msgType, payload)
	} else {
		data, err = protocol.RawFrame(msgType, payload)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		return ErrNotConnected
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// Close drops the current connection. Run keeps reconnecting until its
// context ends.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
