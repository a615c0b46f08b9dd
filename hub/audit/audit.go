// Package audit records security-relevant hub activity: logins, agent
// connections and dispatched commands.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Actions recorded by the hub.
const (
	ActionLoginSuccess    = "auth.login"
	ActionLoginFailure    = "auth.login_failed"
	ActionSessionExpired  = "session.expired"
	ActionAgentConnect    = "agent.connect"
	ActionAgentDisconnect = "agent.disconnect"
	ActionCommandDispatch = "command.dispatch"
	ActionCommandFailed   = "command.send_failed"
)

// Event is one audit record. Command parameters and rosters are never stored,
// and sessions appear only as a hash prefix.
type Event struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	ServerID    string          `json:"serverId,omitempty"`
	SessionHash string          `json:"sessionHash,omitempty"`
	Command     string          `json:"command,omitempty"`
	RemoteAddr  string          `json:"remoteAddr,omitempty"`
	Detail      json.RawMessage `json:"detail,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store persists audit events.
type Store interface {
	Log(ctx context.Context, event *Event) error
	List(ctx context.Context, limit, offset int) ([]Event, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// HashSession returns a short stable identifier for a session token that can
// be stored without granting access.
func HashSession(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

// prepare fills the ID and timestamp when the caller left them empty.
func prepare(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
}

// Nop discards every event. It is the default when no driver is configured.
type Nop struct{}

func (Nop) Log(context.Context, *Event) error { return nil }
func (Nop) List(context.Context, int, int) ([]Event, error) { return []Event{}, nil }
func (Nop) Purge(context.Context, time.Time) (int64, error) { return 0, nil }
func (Nop) Ping(context.Context) error { return nil }
func (Nop) Close() error { return nil }
