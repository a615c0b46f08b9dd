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

const observerBufferSize = 64

// Observer streams hub broadcasts from an event socket.
type Observer struct {
	conn   *websocket.Conn
	events chan protocol.Event
	done   chan struct{}
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// DialObserver connects to the hub's event socket. baseURL may be the hub
// base URL or the full /ws/events URL.
func DialObserver(ctx context.Context, baseURL string, tlsSkipVerify bool, logger *slog.Logger) (*Observer, error) {
	u, err := WebSocketURL(baseURL, PathEvents)
	if err != nil {
		return nil, err
	}
	conn, err := dial(ctx, u, tlsSkipVerify)
	if err != nil {
		return nil, err
	}

	o := &Observer{
		conn:   conn,
		events: make(chan protocol.Event, observerBufferSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "observer-client"),
	}
	go o.readLoop()
	return o, nil
}

// Events returns the broadcast stream. It is closed when the connection ends;
// Err then reports why.
func (o *Observer) Events() <-chan protocol.Event {
	return o.events
}

// Err returns the error that ended the stream, or nil while it is open or
// after a local Close.
func (o *Observer) Err() error {
	o.errMu.Lock()
	defer o.errMu.Unlock()
	return o.err
}

func (o *Observer) readLoop() {
	defer close(o.events)
	for {
		_, msg, err := o.conn.ReadMessage()
		if err != nil {
			select {
			case <-o.done:
			default:
				o.errMu.Lock()
				o.err = fmt.Errorf("read message: %w", err)
				o.errMu.Unlock()
			}
			return
		}

		var f protocol.EventFrame
		if err := json.Unmarshal(msg, &f); err != nil {
			o.logger.Warn("invalid frame from hub", "error", err)
			continue
		}
		ev, err := protocol.DecodeEvent(f)
		if err != nil {
			o.logger.Warn("invalid event from hub", "event", f.Event, "error", err)
			continue
		}

		select {
		case o.events <- ev:
		case <-o.done:
			return
		}
	}
}

// Execute submits a command over the socket. Failures come back as a
// command-error event on this observer only.
func (o *Observer) Execute(cmd protocol.ExecuteCommand) error {
	data, err := protocol.NamedFrame(protocol.TypeExecuteCommand, cmd)
	if err != nil {
		return err
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	_ = o.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return o.conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the stream.
func (o *Observer) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.done)
		o.writeMu.Lock()
		_ = o.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		o.writeMu.Unlock()
		err = o.conn.Close()
	})
	return err
}
