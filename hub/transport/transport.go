// Package transport normalizes the two agent wire protocols into one set of
// callbacks and serializes outbound command envelopes back into whichever
// framing a connection uses.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// Kind identifies the framing a connection speaks.
type Kind int

const (
	// KindRaw connections exchange JSON objects with a "type" discriminator.
	KindRaw Kind = iota
	// KindEvents connections exchange named events wrapped in an EventFrame.
	KindEvents
)

func (k Kind) String() string {
	switch k {
	case KindRaw:
		return "raw-framed"
	case KindEvents:
		return "event-multiplexed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Conn is an opaque handle to one live agent or observer connection.
// Implementations must be comparable so registries can match handles.
type Conn interface {
	ID() string
	Kind() Kind
	// Send writes one command envelope using the connection's own framing.
	Send(cmd protocol.WebCommand) error
	Close() error
}

// Emitter is implemented by connections that can carry named observer events.
type Emitter interface {
	Emit(event string, payload any) error
}

// Handler receives normalized inbound agent messages. Calls for a single
// connection are made sequentially in arrival order.
type Handler interface {
	OnConnect(conn Conn, msg protocol.MinecraftConnect)
	OnRosterPush(conn Conn, msg protocol.PlayerUpdate)
	OnCommandResult(conn Conn, msg protocol.CommandResponse)
	OnDisconnect(conn Conn)
}

// ClientCommandHandler is optionally implemented by a Handler that accepts
// commands submitted over event-multiplexed observer sockets.
type ClientCommandHandler interface {
	OnClientCommand(conn Conn, msg protocol.ExecuteCommand)
}

// Subscriber supplies the broadcast stream forwarded to observer sockets.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan protocol.Event, string)
}

// ErrUnknownType marks frames whose discriminator names no known message.
var ErrUnknownType = errors.New("unknown message type")

// MalformedMessageError reports an inbound frame that could not be
// normalized. The connection stays open after one of these.
type MalformedMessageError struct {
	Type   string
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	msg := "malformed message: " + e.Reason
	if e.Type != "" {
		msg += " (type " + e.Type + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// SendCommand dispatches cmd on conn. It is the single outbound operation the
// broker uses; framing is decided by the connection.
func SendCommand(conn Conn, cmd protocol.WebCommand) error {
	if err := conn.Send(cmd); err != nil {
		return fmt.Errorf("send %s over %s conn %s: %w", cmd.Command, conn.Kind(), conn.ID(), err)
	}
	return nil
}
