package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // game-server plugins send no Origin
			}
			return originSet[origin]
		},
	}
}

// Options configures the Adapter.
type Options struct {
	AllowedOrigins []string   // for WebSocket origin check
	MaxFrameBytes  int64      // max inbound frame size (default 1MB)
	Observers      Subscriber // broadcast source for event-multiplexed sockets; nil disables
}

// Adapter accepts agent and observer WebSocket connections and feeds their
// normalized messages to a Handler.
type Adapter struct {
	handler       Handler
	observers     Subscriber
	logger        *slog.Logger
	upgrader      websocket.Upgrader
	maxFrameBytes int64

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// New creates an Adapter.
func New(h Handler, logger *slog.Logger, opts Options) *Adapter {
	limit := opts.MaxFrameBytes
	if limit == 0 {
		limit = 1024 * 1024
	}
	return &Adapter{
		handler:       h,
		observers:     opts.Observers,
		logger:        logger.With("component", "transport"),
		upgrader:      makeUpgrader(opts.AllowedOrigins),
		maxFrameBytes: limit,
		conns:         make(map[*wsConn]struct{}),
	}
}

// Close closes every open connection. Read loops then exit and report
// OnDisconnect as usual.
func (a *Adapter) Close() {
	a.mu.Lock()
	conns := make([]*wsConn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// Len returns the number of open connections.
func (a *Adapter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

func (a *Adapter) track(c *wsConn) {
	a.mu.Lock()
	a.conns[c] = struct{}{}
	a.mu.Unlock()
}

func (a *Adapter) untrack(c *wsConn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
}

// HandleRawWS accepts raw-framed agent connections.
func (a *Adapter) HandleRawWS(w http.ResponseWriter, req *http.Request) {
	a.serveWS(w, req, KindRaw)
}

// HandleEventWS accepts event-multiplexed connections. Every such connection
// is an observer; it becomes an agent as well once it sends minecraft-connect.
func (a *Adapter) HandleEventWS(w http.ResponseWriter, req *http.Request) {
	a.serveWS(w, req, KindEvents)
}

func (a *Adapter) serveWS(w http.ResponseWriter, req *http.Request, kind Kind) {
	ws, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "kind", kind.String(), "error", err)
		return
	}
	a.serve(newConn(ws, kind), req.RemoteAddr)
}

// serve runs the read loop for one connection until it fails. Frames are
// handled one at a time, in arrival order.
func (a *Adapter) serve(c *wsConn, remoteAddr string) {
	a.track(c)
	defer a.untrack(c)
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(a.maxFrameBytes)
	stopKeepalive := c.startKeepalive()
	defer stopKeepalive()

	logger := a.logger.With("conn_id", c.id, "kind", c.kind.String())
	logger.Info("connection opened", "remote_addr", remoteAddr)

	if c.kind == KindEvents && a.observers != nil {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		events, subID := a.observers.Subscribe(ctx)
		logger.Debug("observer subscribed", "sub_id", subID)
		go pumpEvents(c, events, logger)
	}

	defer func() {
		a.handler.OnDisconnect(c)
		logger.Info("connection closed")
	}()

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			logger.Debug("read error", "error", err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))

		a.handleFrame(c, frame, logger)
	}
}

func (a *Adapter) handleFrame(c *wsConn, frame []byte, logger *slog.Logger) {
	in, err := c.codec.Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			logger.Info("ignoring unrecognized frame", "error", err)
		} else {
			logger.Warn("dropping malformed frame", "error", err, "bytes", len(frame))
		}
		return
	}
	logger.Debug("frame received", "type", in.Type)

	switch {
	case in.Connect != nil:
		a.handler.OnConnect(c, *in.Connect)
	case in.Roster != nil:
		a.handler.OnRosterPush(c, *in.Roster)
	case in.Result != nil:
		a.handler.OnCommandResult(c, *in.Result)
	case in.Client != nil:
		cc, ok := a.handler.(ClientCommandHandler)
		if !ok {
			logger.Info("client commands not accepted, dropping frame")
			return
		}
		cc.OnClientCommand(c, *in.Client)
	}
}

// pumpEvents forwards broadcast events to an observer until the
// subscription channel is closed.
func pumpEvents(c *wsConn, events <-chan protocol.Event, logger *slog.Logger) {
	for ev := range events {
		if err := c.Emit(ev.Name, ev.Payload); err != nil {
			logger.Debug("emit to observer failed", "event", ev.Name, "error", err)
		}
	}
}
