// Package watch is a live terminal view of the game servers connected to a
// hub and of its broadcast stream.
package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abracadabra-mc/abracadabra/hub/tui"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// EventMsg carries one broadcast received from the hub.
type EventMsg struct {
	Event protocol.Event
	At    time.Time
}

// ClosedMsg reports that the event stream ended.
type ClosedMsg struct {
	Err error
}

type tickMsg time.Time

// Model is the root watch model.
type Model struct {
	hubURL    string
	servers   serversModel
	events    eventsModel
	help      help.Model
	connected bool
	now       time.Time

	width  int
	height int
}

// NewModel returns a model seeded with the servers the hub reported at
// startup.
func NewModel(hubURL string, servers []protocol.ServerSummary, now time.Time) Model {
	m := Model{
		hubURL:    hubURL,
		events:    newEvents(),
		help:      help.New(),
		connected: true,
		now:       now,
	}
	m.servers.seed(servers)
	return m
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.events.SetSize(msg.Width-4, m.eventsHeight())
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		return m, tick()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		case key.Matches(msg, keys.Up), key.Matches(msg, keys.Down):
			m.servers = m.servers.Update(msg)
			return m, nil
		}

	case EventMsg:
		m.apply(msg)
		return m, nil

	case ClosedMsg:
		m.connected = false
		text := "event stream closed"
		if msg.Err != nil {
			text = fmt.Sprintf("event stream closed: %v", msg.Err)
		}
		m.events.notice(m.now, text)
		return m, nil
	}

	var cmd tea.Cmd
	m.events, cmd = m.events.Update(msg)
	return m, cmd
}

func (m *Model) apply(msg EventMsg) {
	if !msg.At.IsZero() {
		m.now = msg.At
	}
	switch p := msg.Event.Payload.(type) {
	case protocol.ServerConnected:
		m.servers.upsert(serverRow{id: p.ServerID, name: p.ServerName, connectedAt: p.ConnectedAt})
	case protocol.ServerDisconnected:
		m.servers.remove(p.ServerID)
	case protocol.PlayersUpdated:
		m.servers.setPlayers(p.ServerID, p.Players)
	}
	m.events.add(m.now, msg.Event)
	if m.width > 0 {
		m.events.SetSize(m.width-4, m.eventsHeight())
	}
}

func (m Model) View() string {
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		tui.Title.Render("Abracadabra Hub"),
		"  ",
		tui.Description.Render(m.hubURL),
		"  ",
		tui.StatusDot(m.connected)+" "+tui.StatusText(m.connected),
	)

	width := max(m.width-2, 40)
	serversView := tui.Panel.Width(width).BorderForeground(tui.ColorPrimary).Render(
		tui.Subtitle.Render(fmt.Sprintf("Servers (%d)", len(m.servers.items))) + "\n" + m.servers.View(m.now),
	)
	eventsView := tui.Panel.Width(width).Render(
		tui.Subtitle.Render("Events") + "\n" + m.events.View(),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		serversView,
		eventsView,
		m.help.View(keys),
	)
}

// Connected reports whether the event stream is still open.
func (m Model) Connected() bool { return m.connected }

func (m Model) eventsHeight() int {
	// Rows used by everything except the event log.
	h := m.height - (1 + m.servers.height() + 2 + 4)
	if h < 5 {
		h = 5
	}
	return h
}
