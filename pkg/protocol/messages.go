// Package protocol defines the wire messages exchanged between game-server
// agents, the hub and web observers.
//
// Agents use one of two framings. Raw-framed connections exchange JSON objects
// carrying a "type" discriminator with the payload fields at the top level.
// Event-multiplexed connections exchange EventFrame values whose "event" field
// names the message and whose "data" field holds the same payload shape.
package protocol

import (
	"encoding/json"
	"time"
)

// --- Message names ---

const (
	// Agent → hub
	TypeMinecraftConnect = "minecraft-connect"
	TypePlayerUpdate     = "player-update"
	TypeCommandResponse  = "command-response"

	// Hub → agent
	TypeWebCommand = "web-command"

	// Observer → hub (event-multiplexed only)
	TypeExecuteCommand = "execute-command"

	// Hub → observer
	EventServerConnected    = "server-connected"
	EventServerDisconnected = "server-disconnected"
	EventPlayersUpdated     = "players-updated"
	EventCommandResult      = "command-result"
	EventCommandError       = "command-error"
)

// CommandSelectPlayer is the command name used when an operator picks a
// target player on an agent.
const CommandSelectPlayer = "select-player"

// EventFrame is the envelope for event-multiplexed connections.
type EventFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// --- Agent → hub ---

// MinecraftConnect announces an agent and its display name.
type MinecraftConnect struct {
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
}

// PlayerUpdate replaces the roster of an agent. Player entries are passed
// through untouched; agents usually send objects like {"name":"Alice"}.
type PlayerUpdate struct {
	ServerID string            `json:"serverId"`
	Players  []json.RawMessage `json:"players"`
}

// CommandResponse reports the outcome of a previously dispatched command.
type CommandResponse struct {
	SessionID string          `json:"sessionId"`
	Response  json.RawMessage `json:"response,omitempty"`
	Success   bool            `json:"success"`
}

// --- Hub → agent ---

// WebCommand is the envelope dispatched to an agent. Type is always
// TypeWebCommand; raw-framed agents rely on it as the discriminator.
type WebCommand struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWebCommand builds a command envelope. Missing params become an empty
// object so agents can always index into them.
func NewWebCommand(sessionID, command string, params json.RawMessage, ts time.Time) WebCommand {
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	return WebCommand{
		Type:      TypeWebCommand,
		SessionID: sessionID,
		Command:   command,
		Params:    params,
		Timestamp: ts.UTC(),
	}
}

// --- Observer → hub ---

// ExecuteCommand is a command submitted over an observer socket instead of
// the HTTP API.
type ExecuteCommand struct {
	SessionID string          `json:"sessionId"`
	ServerID  string          `json:"serverId"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// --- Hub → observer ---

// ServerConnected is broadcast when an agent registers.
type ServerConnected struct {
	ServerID    string    `json:"serverId"`
	ServerName  string    `json:"serverName"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ServerDisconnected is broadcast when an agent's transport goes away.
type ServerDisconnected struct {
	ServerID string `json:"serverId"`
}

// PlayersUpdated is broadcast after a roster push for a known agent.
type PlayersUpdated struct {
	ServerID string            `json:"serverId"`
	Players  []json.RawMessage `json:"players"`
}

// CommandResult relays a CommandResponse to every observer. Observers filter
// on SessionID themselves.
type CommandResult struct {
	SessionID string          `json:"sessionId"`
	Response  json.RawMessage `json:"response,omitempty"`
	Success   bool            `json:"success"`
	Timestamp time.Time       `json:"timestamp"`
}

// CommandError is sent only to the observer whose execute-command failed.
type CommandError struct {
	Error string `json:"error"`
}

// Event is one broadcast notification. Payload is one of the hub → observer
// structs above.
type Event struct {
	Name    string
	Payload any
}

// ServerSummary describes a connected agent in listings.
type ServerSummary struct {
	ServerID    string    `json:"serverId"`
	ServerName  string    `json:"serverName"`
	ConnectedAt time.Time `json:"connectedAt"`
	PlayerCount int       `json:"playerCount"`
}
