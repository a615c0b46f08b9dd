package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated means the session token is unknown or idle too long.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAgentNotFound means no agent is registered under the server id.
	ErrAgentNotFound = errors.New("server not connected")
	// ErrEmptyCommand means the caller supplied no command name.
	ErrEmptyCommand = errors.New("command is required")
)

// TransportSendError reports that an agent's connection failed while a
// command was being written. The agent has already been dropped when this is
// returned.
type TransportSendError struct {
	ServerID string
	Err      error
}

func (e *TransportSendError) Error() string {
	return fmt.Sprintf("send to server %s: %v", e.ServerID, e.Err)
}

func (e *TransportSendError) Unwrap() error { return e.Err }

// PublicMessage maps a broker error to the text shown to web operators.
func PublicMessage(err error) string {
	var sendErr *TransportSendError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthenticated):
		return "Not authenticated"
	case errors.Is(err, ErrAgentNotFound):
		return "Server not connected"
	case errors.Is(err, ErrEmptyCommand):
		return "Command is required"
	case errors.As(err, &sendErr):
		return "Server connection lost"
	default:
		return "Internal server error"
	}
}
