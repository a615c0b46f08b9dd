package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHub upgrades every request and hands the server side of the socket to
// the test, along with the path it was dialed on.
type fakeHub struct {
	srv   *httptest.Server
	conns chan hubConn
}

type hubConn struct {
	path string
	ws   *websocket.Conn
}

func startFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{conns: make(chan hubConn, 4)}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- hubConn{path: r.URL.Path, ws: ws}
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) accept(t *testing.T) hubConn {
	t.Helper()
	select {
	case c := <-h.conns:
		t.Cleanup(func() { _ = c.ws.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client connection")
		return hubConn{}
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return m
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode string %s: %v", raw, err)
	}
	return s
}

func runAgent(t *testing.T, a *Agent) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":          "ws://localhost:3000/ws/agent",
		"https://hub.example.com/":       "wss://hub.example.com/ws/agent",
		"ws://localhost:3000/ws/events":  "ws://localhost:3000/ws/events",
		"https://hub.example.com/prefix": "wss://hub.example.com/prefix/ws/agent",
	}
	for in, want := range cases {
		got, err := WebSocketURL(in, PathAgent)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}

	if _, err := WebSocketURL("ftp://x", PathAgent); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestParseProtocol(t *testing.T) {
	if p, err := ParseProtocol("events"); err != nil || p != ProtocolEvents {
		t.Errorf("unexpected result: %q, %v", p, err)
	}
	if _, err := ParseProtocol("socketio"); err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestNewAgentRequiresServerID(t *testing.T) {
	if _, err := NewAgent(AgentConfig{URL: "ws://x"}, nil, quietLogger()); err == nil {
		t.Fatal("expected error without server id")
	}
}

func TestAgentRawHandshakeAndCommand(t *testing.T) {
	hub := startFakeHub(t)
	commands := make(chan protocol.WebCommand, 1)

	var agent *Agent
	agent, err := NewAgent(AgentConfig{URL: hub.srv.URL, ServerID: "srv1", ServerName: "Hub"}, func(cmd protocol.WebCommand) {
		commands <- cmd
		_ = agent.Respond(protocol.CommandResponse{SessionID: cmd.SessionID, Success: true})
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	runAgent(t, agent)

	c := hub.accept(t)
	if c.path != PathAgent {
		t.Fatalf("raw agent dialed %s", c.path)
	}
	hello := readFrame(t, c.ws)
	if str(t, hello["type"]) != protocol.TypeMinecraftConnect || str(t, hello["serverId"]) != "srv1" || str(t, hello["serverName"]) != "Hub" {
		t.Fatalf("unexpected hello: %v", hello)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := agent.WaitConnected(ctx); err != nil {
		t.Fatal(err)
	}

	cmd := protocol.NewWebCommand("sess-1", "heal-player", nil, time.Now())
	data, _ := json.Marshal(cmd)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-commands:
		if got.Command != "heal-player" || got.SessionID != "sess-1" {
			t.Errorf("unexpected command: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}

	resp := readFrame(t, c.ws)
	if str(t, resp["type"]) != protocol.TypeCommandResponse || str(t, resp["sessionId"]) != "sess-1" {
		t.Errorf("unexpected response frame: %v", resp)
	}
}

func TestAgentEventsFraming(t *testing.T) {
	hub := startFakeHub(t)
	commands := make(chan protocol.WebCommand, 1)

	agent, err := NewAgent(AgentConfig{URL: hub.srv.URL, Protocol: ProtocolEvents, ServerID: "srv1"}, func(cmd protocol.WebCommand) {
		commands <- cmd
	}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	runAgent(t, agent)

	c := hub.accept(t)
	if c.path != PathEvents {
		t.Fatalf("event agent dialed %s", c.path)
	}
	hello := readFrame(t, c.ws)
	if str(t, hello["event"]) != protocol.TypeMinecraftConnect {
		t.Fatalf("unexpected hello: %v", hello)
	}

	// Broadcasts share the socket and must be skipped.
	broadcast, _ := protocol.NamedFrame(protocol.EventServerConnected, protocol.ServerConnected{ServerID: "srv1"})
	frame, _ := protocol.NamedFrame(protocol.TypeWebCommand, protocol.NewWebCommand("s", "smite", nil, time.Now()))
	for _, data := range [][]byte{broadcast, frame} {
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-commands:
		if got.Command != "smite" || got.Type != protocol.TypeWebCommand {
			t.Errorf("unexpected command: %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}
	select {
	case extra := <-commands:
		t.Errorf("broadcast delivered as command: %+v", extra)
	default:
	}
}

func TestAgentReconnectResendsRoster(t *testing.T) {
	hub := startFakeHub(t)

	agent, err := NewAgent(AgentConfig{URL: hub.srv.URL, ServerID: "srv1", ReconnectInterval: 10 * time.Millisecond}, nil, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := agent.UpdatePlayers([]json.RawMessage{json.RawMessage(`{"name":"Alice"}`)}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Run, got %v", err)
	}
	runAgent(t, agent)

	for attempt := 0; attempt < 2; attempt++ {
		c := hub.accept(t)
		if got := str(t, readFrame(t, c.ws)["type"]); got != protocol.TypeMinecraftConnect {
			t.Fatalf("attempt %d: expected connect first, got %s", attempt, got)
		}
		roster := readFrame(t, c.ws)
		if str(t, roster["type"]) != protocol.TypePlayerUpdate || !strings.Contains(string(roster["players"]), "Alice") {
			t.Fatalf("attempt %d: unexpected roster frame: %v", attempt, roster)
		}
		_ = c.ws.Close()
	}
}

func TestObserverStream(t *testing.T) {
	hub := startFakeHub(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs, err := DialObserver(ctx, hub.srv.URL, false, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer obs.Close()

	c := hub.accept(t)
	if c.path != PathEvents {
		t.Fatalf("observer dialed %s", c.path)
	}

	frame, _ := protocol.NamedFrame(protocol.EventPlayersUpdated, protocol.PlayersUpdated{
		ServerID: "srv1",
		Players:  []json.RawMessage{json.RawMessage(`{"name":"Alice"}`)},
	})
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-obs.Events():
		got, ok := ev.Payload.(protocol.PlayersUpdated)
		if ev.Name != protocol.EventPlayersUpdated || !ok || got.ServerID != "srv1" || len(got.Players) != 1 {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	if err := obs.Execute(protocol.ExecuteCommand{SessionID: "s", ServerID: "srv1", Command: "heal-player"}); err != nil {
		t.Fatal(err)
	}
	sent := readFrame(t, c.ws)
	if str(t, sent["event"]) != protocol.TypeExecuteCommand {
		t.Errorf("unexpected frame: %v", sent)
	}

	_ = c.ws.Close()
	select {
	case _, ok := <-obs.Events():
		if ok {
			t.Fatal("expected stream to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close")
	}
	if obs.Err() == nil {
		t.Error("expected Err after remote close")
	}
}

func TestHTTPURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000":         "http://localhost:3000/api/servers",
		"ws://localhost:3000/ws/events": "http://localhost:3000/api/servers",
		"wss://hub.example.com/x/ws/":   "https://hub.example.com/x/api/servers",
	}
	for in, want := range cases {
		got, err := HTTPURL(in, "/api/servers")
		if err != nil {
			t.Errorf("%s: unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("%s: got %s, want %s", in, got, want)
		}
	}
}

func TestListServers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/servers" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"servers":[{"serverId":"srv1","serverName":"Survival","playerCount":2}]}`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	servers, err := ListServers(ctx, srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || servers[0].ServerID != "srv1" || servers[0].PlayerCount != 2 {
		t.Errorf("unexpected servers: %+v", servers)
	}

	if _, err := ListServers(ctx, srv.URL+"/nope", false); err == nil {
		t.Error("expected error for non-200 response")
	}
}
