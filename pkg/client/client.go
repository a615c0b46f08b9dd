// Package client connects Go programs to a hub: Agent plays the part of a
// game-server plugin and Observer follows the live event stream.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Protocol selects the agent framing.
type Protocol string

const (
	// ProtocolRaw speaks type-discriminated JSON on /ws/agent.
	ProtocolRaw Protocol = "raw"
	// ProtocolEvents speaks named events on /ws/events.
	ProtocolEvents Protocol = "events"
)

// Paths served by the hub.
const (
	PathAgent  = "/ws/agent"
	PathEvents = "/ws/events"
)

// ErrNotConnected is returned by writes while no connection is up.
var ErrNotConnected = errors.New("not connected")

// writeWait bounds a single frame write.
const writeWait = 10 * time.Second

// ParseProtocol validates a protocol name from a flag.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(s) {
	case ProtocolRaw, ProtocolEvents:
		return Protocol(s), nil
	default:
		return "", fmt.Errorf("unknown protocol %q (want %q or %q)", s, ProtocolRaw, ProtocolEvents)
	}
}

func (p Protocol) path() string {
	if p == ProtocolEvents {
		return PathEvents
	}
	return PathAgent
}

// WebSocketURL joins base and path, mapping http(s) schemes to ws(s). A base
// that already names a /ws/ path is returned unchanged.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub url scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(u.Path, "/ws/") {
		u.Path = strings.TrimSuffix(u.Path, "/") + path
	}
	return u.String(), nil
}

func dial(ctx context.Context, rawURL string, skipVerify bool) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if skipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial hub: %w", err)
	}
	return conn, nil
}
