package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// wsConn is the Conn implementation shared by both framings; only the codec
// differs.
type wsConn struct {
	id    string
	kind  Kind
	codec Codec
	conn  *websocket.Conn

	mu        sync.Mutex // gorilla allows one concurrent writer
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, kind Kind) *wsConn {
	c := &wsConn{
		id:   uuid.New().String(),
		kind: kind,
		conn: ws,
	}
	if kind == KindEvents {
		c.codec = eventCodec{}
	} else {
		c.codec = rawCodec{}
	}
	return c
}

func (c *wsConn) ID() string { return c.id }
func (c *wsConn) Kind() Kind { return c.kind }

func (c *wsConn) Send(cmd protocol.WebCommand) error {
	data, err := c.codec.EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}
	return c.write(data)
}

// Emit writes a named observer event. Raw-framed connections have no event
// names and reject it.
func (c *wsConn) Emit(event string, payload any) error {
	ec, ok := c.codec.(eventCodec)
	if !ok {
		return fmt.Errorf("%s connections do not carry named events", c.kind)
	}
	data, err := ec.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *wsConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
