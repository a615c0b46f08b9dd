package broker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/abracadabra-mc/abracadabra/hub/audit"
	"github.com/abracadabra-mc/abracadabra/hub/registry"
	"github.com/abracadabra-mc/abracadabra/hub/session"
	"github.com/abracadabra-mc/abracadabra/hub/transport"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// recordingConn is a transport.Conn that keeps everything written to it.
type recordingConn struct {
	id      string
	kind    transport.Kind
	sendErr error

	mu      sync.Mutex
	sent    []protocol.WebCommand
	emitted []protocol.Event
	closed  bool
}

func (c *recordingConn) ID() string { return c.id }
func (c *recordingConn) Kind() transport.Kind { return c.kind }

func (c *recordingConn) Send(cmd protocol.WebCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *recordingConn) Emit(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = append(c.emitted, protocol.Event{Name: event, Payload: payload})
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) Sent() []protocol.WebCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.WebCommand(nil), c.sent...)
}

// recordingPublisher collects broadcast events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (p *recordingPublisher) Publish(ev protocol.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.events))
	for i, ev := range p.events {
		names[i] = ev.Name
	}
	return names
}

func (p *recordingPublisher) Last() protocol.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

// memoryAudit keeps audit events in a slice.
type memoryAudit struct {
	audit.Nop
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryAudit) Log(_ context.Context, e *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *e)
	return nil
}

func (m *memoryAudit) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	broker   *Broker
	sessions *session.Store
	agents   *registry.Registry
	events   *recordingPublisher
	audit    *memoryAudit
	now      time.Time
}

func setupBroker(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		now:    time.Date(2024, 5, 1, 18, 30, 0, 0, time.UTC),
		agents: registry.New(nil),
		events: &recordingPublisher{},
		audit:  &memoryAudit{},
	}
	clock := func() time.Time { return f.now }
	f.sessions = session.NewStore(session.Options{Now: clock})
	f.broker = New(f.sessions, f.agents, f.events, slog.Default(), Options{Audit: f.audit, Now: clock})
	return f
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	tok, err := f.sessions.Create()
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func (f *fixture) connect(id, name string, kind transport.Kind) *recordingConn {
	conn := &recordingConn{id: "conn-" + id, kind: kind}
	f.broker.OnConnect(conn, protocol.MinecraftConnect{ServerID: id, ServerName: name})
	return conn
}

func TestExecuteCommandDispatches(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)

	d, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "heal-player", json.RawMessage(`{"target":"Alice"}`))
	if err != nil {
		t.Fatalf("ExecuteCommand: %v", err)
	}
	if d.ServerID != "srv1" || d.Command != "heal-player" || !d.Timestamp.Equal(f.now) {
		t.Errorf("unexpected dispatch: %+v", d)
	}

	sent := conn.Sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sent))
	}
	cmd := sent[0]
	if cmd.Type != protocol.TypeWebCommand || cmd.SessionID != tok || cmd.Command != "heal-player" {
		t.Errorf("unexpected envelope: %+v", cmd)
	}
	if string(cmd.Params) != `{"target":"Alice"}` {
		t.Errorf("params: got %s", cmd.Params)
	}
	if !cmd.Timestamp.Equal(f.now) {
		t.Errorf("timestamp: got %v", cmd.Timestamp)
	}
}

func TestExecuteCommandDefaultsParams(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindEvents)

	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "day", nil); err != nil {
		t.Fatal(err)
	}
	if got := string(conn.Sent()[0].Params); got != `{}` {
		t.Errorf("expected {} params, got %s", got)
	}
}

func TestExecuteCommandUnknownSession(t *testing.T) {
	f := setupBroker(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)

	_, err := f.broker.ExecuteCommand(context.Background(), "forged", "srv1", "kill", nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	if len(conn.Sent()) != 0 {
		t.Error("command sent without authentication")
	}
	if PublicMessage(err) != "Not authenticated" {
		t.Errorf("public message: got %q", PublicMessage(err))
	}
}

func TestExecuteCommandExpiredSession(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)

	f.now = f.now.Add(31 * time.Minute)
	_, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "kill", nil)
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated for idle session, got %v", err)
	}
	if len(conn.Sent()) != 0 {
		t.Error("command sent for expired session")
	}
}

func TestExecuteCommandUnknownServer(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	other := f.connect("srv1", "Hub", transport.KindRaw)

	_, err := f.broker.ExecuteCommand(context.Background(), tok, "srv-missing", "kill", nil)
	if !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
	if len(other.Sent()) != 0 {
		t.Error("command leaked to another agent")
	}
	if PublicMessage(err) != "Server not connected" {
		t.Errorf("public message: got %q", PublicMessage(err))
	}
}

func TestExecuteCommandEmpty(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	f.connect("srv1", "Hub", transport.KindRaw)

	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "", nil); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestExecuteCommandEmptyChecksSessionFirst(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)

	if _, err := f.broker.ExecuteCommand(context.Background(), "does-not-exist", "srv1", "", nil); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("unknown session: expected ErrNotAuthenticated, got %v", err)
	}
	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "nope", "", nil); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("unknown server: expected ErrAgentNotFound, got %v", err)
	}
	if len(conn.Sent()) != 0 {
		t.Errorf("expected no sends, got %d", len(conn.Sent()))
	}
}

func TestExecuteCommandTouchesSession(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	f.connect("srv1", "Hub", transport.KindRaw)

	f.now = f.now.Add(20 * time.Minute)
	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "day", nil); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(20 * time.Minute)
	if !f.sessions.Validate(tok) {
		t.Error("successful command should refresh the session")
	}
}

func TestExecuteCommandSendFailureDropsAgent(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)
	conn.sendErr = errors.New("broken pipe")

	_, err := f.broker.ExecuteCommand(WithRemoteAddr(context.Background(), "198.51.100.7"), tok, "srv1", "day", nil)
	var sendErr *TransportSendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected TransportSendError, got %v", err)
	}
	if sendErr.ServerID != "srv1" {
		t.Errorf("server id: got %q", sendErr.ServerID)
	}
	if PublicMessage(err) != "Server connection lost" {
		t.Errorf("public message: got %q", PublicMessage(err))
	}
	if !conn.closed {
		t.Error("failed connection was not closed")
	}
	if _, ok := f.agents.Lookup("srv1"); ok {
		t.Error("failed agent still registered")
	}
	if ev := f.events.Last(); ev.Name != protocol.EventServerDisconnected {
		t.Errorf("expected server-disconnected broadcast, got %s", ev.Name)
	}

	// The read loop's later disconnect finds nothing left to remove.
	before := len(f.events.Names())
	f.broker.OnDisconnect(conn)
	if len(f.events.Names()) != before {
		t.Error("duplicate disconnect broadcast")
	}

	var failed *audit.Event
	for i := range f.audit.events {
		if f.audit.events[i].Action == audit.ActionCommandFailed {
			failed = &f.audit.events[i]
		}
	}
	if failed == nil {
		t.Fatalf("expected command.send_failed audit event, got %v", f.audit.Actions())
	}
	if failed.RemoteAddr != "198.51.100.7" || failed.SessionHash != audit.HashSession(tok) {
		t.Errorf("unexpected audit event: %+v", failed)
	}
}

func TestSelectPlayer(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindEvents)

	if _, err := f.broker.SelectPlayer(context.Background(), tok, "srv1", "Alice"); err != nil {
		t.Fatalf("SelectPlayer: %v", err)
	}
	cmd := conn.Sent()[0]
	if cmd.Command != protocol.CommandSelectPlayer {
		t.Errorf("command: got %q", cmd.Command)
	}
	if string(cmd.Params) != `{"playerName":"Alice"}` {
		t.Errorf("params: got %s", cmd.Params)
	}
}

func TestOnConnectBroadcastsAndReplaces(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	first := f.connect("srv1", "Old", transport.KindRaw)
	second := f.connect("srv1", "New", transport.KindEvents)

	ev := f.events.Last()
	payload, ok := ev.Payload.(protocol.ServerConnected)
	if ev.Name != protocol.EventServerConnected || !ok || payload.ServerName != "New" {
		t.Fatalf("unexpected broadcast: %+v", ev)
	}
	if f.agents.Len() != 1 {
		t.Fatalf("expected one agent, got %d", f.agents.Len())
	}

	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "day", nil); err != nil {
		t.Fatal(err)
	}
	if len(first.Sent()) != 0 || len(second.Sent()) != 1 {
		t.Errorf("command should reach only the newest agent: first=%d second=%d", len(first.Sent()), len(second.Sent()))
	}

	// The replaced connection closing must not unregister the new one.
	before := len(f.events.Names())
	f.broker.OnDisconnect(first)
	if _, ok := f.agents.Lookup("srv1"); !ok {
		t.Error("stale disconnect removed the replacement agent")
	}
	if len(f.events.Names()) != before {
		t.Error("stale disconnect produced a broadcast")
	}
}

func TestOnDisconnectRemovesEveryIDOnHandle(t *testing.T) {
	f := setupBroker(t)
	conn := &recordingConn{id: "shared", kind: transport.KindEvents}
	f.broker.OnConnect(conn, protocol.MinecraftConnect{ServerID: "a", ServerName: "A"})
	f.broker.OnConnect(conn, protocol.MinecraftConnect{ServerID: "b", ServerName: "B"})
	f.connect("c", "C", transport.KindRaw)

	f.broker.OnDisconnect(conn)

	if ids := f.agents.IDs(); len(ids) != 1 || ids[0] != "c" {
		t.Fatalf("expected only c left, got %v", ids)
	}
	disconnects := 0
	for _, name := range f.events.Names() {
		if name == protocol.EventServerDisconnected {
			disconnects++
		}
	}
	if disconnects != 2 {
		t.Errorf("expected 2 server-disconnected broadcasts, got %d", disconnects)
	}
}

func TestOnRosterPush(t *testing.T) {
	f := setupBroker(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)
	f.connect("srv2", "Lobby", transport.KindRaw)
	players := []json.RawMessage{json.RawMessage(`{"name":"Alice"}`), json.RawMessage(`{"name":"Bob"}`)}

	f.broker.OnRosterPush(conn, protocol.PlayerUpdate{ServerID: "srv1", Players: players})

	ev := f.events.Last()
	payload, ok := ev.Payload.(protocol.PlayersUpdated)
	if ev.Name != protocol.EventPlayersUpdated || !ok || payload.ServerID != "srv1" || len(payload.Players) != 2 {
		t.Fatalf("unexpected broadcast: %+v", ev)
	}
	if r, _ := f.agents.Roster("srv1"); len(r) != 2 {
		t.Errorf("srv1 roster: got %d entries", len(r))
	}
	if r, _ := f.agents.Roster("srv2"); len(r) != 0 {
		t.Errorf("srv2 roster changed: %v", r)
	}

	before := len(f.events.Names())
	f.broker.OnRosterPush(conn, protocol.PlayerUpdate{ServerID: "ghost", Players: players})
	if len(f.events.Names()) != before {
		t.Error("roster push for unknown server was broadcast")
	}
}

func TestOnCommandResult(t *testing.T) {
	f := setupBroker(t)
	conn := f.connect("srv1", "Hub", transport.KindEvents)

	f.broker.OnCommandResult(conn, protocol.CommandResponse{
		SessionID: "sess-9",
		Response:  json.RawMessage(`"Healed Alice"`),
		Success:   true,
	})

	ev := f.events.Last()
	res, ok := ev.Payload.(protocol.CommandResult)
	if ev.Name != protocol.EventCommandResult || !ok {
		t.Fatalf("unexpected broadcast: %+v", ev)
	}
	if res.SessionID != "sess-9" || !res.Success || string(res.Response) != `"Healed Alice"` {
		t.Errorf("unexpected result: %+v", res)
	}
	if !res.Timestamp.Equal(f.now) {
		t.Errorf("expected hub timestamp, got %v", res.Timestamp)
	}
}

func TestOnClientCommand(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	agent := f.connect("srv1", "Hub", transport.KindEvents)
	observer := &recordingConn{id: "observer", kind: transport.KindEvents}

	f.broker.OnClientCommand(observer, protocol.ExecuteCommand{SessionID: tok, ServerID: "srv1", Command: "day"})
	if len(agent.Sent()) != 1 {
		t.Fatalf("expected command to reach agent, got %d sends", len(agent.Sent()))
	}
	if len(observer.emitted) != 0 {
		t.Errorf("unexpected emit on success: %+v", observer.emitted)
	}

	f.broker.OnClientCommand(observer, protocol.ExecuteCommand{SessionID: "bad", ServerID: "srv1", Command: "day"})
	f.broker.OnClientCommand(observer, protocol.ExecuteCommand{SessionID: tok, ServerID: "nope", Command: "day"})
	if len(observer.emitted) != 2 {
		t.Fatalf("expected 2 command-error emits, got %d", len(observer.emitted))
	}
	for i, want := range []string{"Not authenticated", "Server not connected"} {
		ev := observer.emitted[i]
		ce, ok := ev.Payload.(protocol.CommandError)
		if ev.Name != protocol.EventCommandError || !ok || ce.Error != want {
			t.Errorf("emit %d: got %+v, want %q", i, ev, want)
		}
	}
	if len(agent.Sent()) != 1 {
		t.Error("failed commands must not reach the agent")
	}
}

func TestAuditTrail(t *testing.T) {
	f := setupBroker(t)
	tok := f.login(t)
	conn := f.connect("srv1", "Hub", transport.KindRaw)
	if _, err := f.broker.ExecuteCommand(context.Background(), tok, "srv1", "day", json.RawMessage(`{"secret":"x"}`)); err != nil {
		t.Fatal(err)
	}
	f.broker.OnDisconnect(conn)

	want := []string{audit.ActionAgentConnect, audit.ActionCommandDispatch, audit.ActionAgentDisconnect}
	got := f.audit.Actions()
	if len(got) != len(want) {
		t.Fatalf("audit actions: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("audit action %d: got %s, want %s", i, got[i], want[i])
		}
	}
	for _, e := range f.audit.events {
		if len(e.Detail) > 0 && string(e.Detail) != `{"transport":"raw-framed"}` {
			t.Errorf("unexpected audit detail %s", e.Detail)
		}
		if e.SessionHash == tok {
			t.Error("raw session token stored in audit trail")
		}
	}
}
