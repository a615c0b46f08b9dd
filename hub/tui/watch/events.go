package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/abracadabra-mc/abracadabra/hub/tui"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

const maxEventLines = 1000

type eventsModel struct {
	viewport   viewport.Model
	lines      []string
	autoScroll bool
}

func newEvents() eventsModel {
	return eventsModel{
		viewport:   viewport.New(80, 10),
		autoScroll: true,
	}
}

func (e *eventsModel) SetSize(width, height int) {
	e.viewport.Width = width
	e.viewport.Height = height
}

func (e *eventsModel) add(at time.Time, ev protocol.Event) {
	e.append(fmt.Sprintf("  %s %s  %s",
		at.Format("15:04:05"),
		tui.EventStyle(ev.Name).Render(fmt.Sprintf("%-19s", ev.Name)),
		describe(ev),
	))
}

func (e *eventsModel) notice(at time.Time, text string) {
	e.append(fmt.Sprintf("  %s %s", at.Format("15:04:05"), tui.ErrorStyle.Render(text)))
}

func (e *eventsModel) append(line string) {
	e.lines = append(e.lines, line)
	if len(e.lines) > maxEventLines {
		e.lines = e.lines[len(e.lines)-maxEventLines:]
	}
	e.viewport.SetContent(strings.Join(e.lines, "\n"))
	if e.autoScroll {
		e.viewport.GotoBottom()
	}
}

func (e eventsModel) Update(msg tea.Msg) (eventsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Bottom):
			e.autoScroll = true
			e.viewport.GotoBottom()
			return e, nil
		case key.Matches(msg, keys.Top):
			e.autoScroll = false
			e.viewport.GotoTop()
			return e, nil
		}
	}
	var cmd tea.Cmd
	e.viewport, cmd = e.viewport.Update(msg)
	return e, cmd
}

func (e eventsModel) View() string {
	return e.viewport.View()
}

// describe renders the payload of a broadcast on one line.
func describe(ev protocol.Event) string {
	switch p := ev.Payload.(type) {
	case protocol.ServerConnected:
		return fmt.Sprintf("%s (%s)", p.ServerID, p.ServerName)
	case protocol.ServerDisconnected:
		return p.ServerID
	case protocol.PlayersUpdated:
		names := make([]string, 0, len(p.Players))
		for _, raw := range p.Players {
			names = append(names, playerName(raw))
		}
		return fmt.Sprintf("%s: %d online %s", p.ServerID, len(names), tui.Dimmed.Render(strings.Join(names, ", ")))
	case protocol.CommandResult:
		status := "ok"
		if !p.Success {
			status = "failed"
		}
		line := fmt.Sprintf("session %s %s", shortID(p.SessionID), status)
		if len(p.Response) > 0 {
			line += "  " + tui.Dimmed.Render(truncate(string(p.Response), 80))
		}
		return line
	case protocol.CommandError:
		return p.Error
	case json.RawMessage:
		return tui.Dimmed.Render(truncate(string(p), 120))
	default:
		return tui.Dimmed.Render(fmt.Sprintf("%v", ev.Payload))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
