package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/abracadabra-mc/abracadabra/hub/tui"
	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

type serverRow struct {
	id          string
	name        string
	connectedAt time.Time
	playerCount int
	players     []string // nil until the first roster broadcast
}

type serversModel struct {
	items  []serverRow
	cursor int
}

func (s *serversModel) seed(summaries []protocol.ServerSummary) {
	for _, sum := range summaries {
		s.upsert(serverRow{
			id:          sum.ServerID,
			name:        sum.ServerName,
			connectedAt: sum.ConnectedAt,
			playerCount: sum.PlayerCount,
		})
	}
}

// upsert replaces a row with the same id, mirroring the hub registry.
func (s *serversModel) upsert(row serverRow) {
	for i := range s.items {
		if s.items[i].id == row.id {
			s.items[i] = row
			return
		}
	}
	s.items = append(s.items, row)
	sort.Slice(s.items, func(i, j int) bool { return s.items[i].id < s.items[j].id })
}

func (s *serversModel) remove(id string) {
	for i := range s.items {
		if s.items[i].id == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	if s.cursor >= len(s.items) {
		s.cursor = max(0, len(s.items)-1)
	}
}

func (s *serversModel) setPlayers(id string, raw []json.RawMessage) bool {
	for i := range s.items {
		if s.items[i].id != id {
			continue
		}
		names := make([]string, 0, len(raw))
		for _, p := range raw {
			names = append(names, playerName(p))
		}
		s.items[i].players = names
		s.items[i].playerCount = len(names)
		return true
	}
	return false
}

func (s *serversModel) selected() (serverRow, bool) {
	if len(s.items) == 0 {
		return serverRow{}, false
	}
	return s.items[s.cursor], true
}

func (s serversModel) Update(msg tea.KeyMsg) serversModel {
	switch {
	case key.Matches(msg, keys.Down):
		if s.cursor < len(s.items)-1 {
			s.cursor++
		}
	case key.Matches(msg, keys.Up):
		if s.cursor > 0 {
			s.cursor--
		}
	}
	return s
}

func (s serversModel) View(now time.Time) string {
	if len(s.items) == 0 {
		return tui.Dimmed.Render("  No game servers connected")
	}

	headerStyle := lipgloss.NewStyle().Foreground(tui.ColorSubtle).Bold(true)
	rows := fmt.Sprintf("  %-20s %-24s %-8s %s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("NAME"),
		headerStyle.Render("PLAYERS"),
		headerStyle.Render("UP"),
	)
	for i, srv := range s.items {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == s.cursor {
			cursor = tui.Selected.Render("> ")
			style = style.Bold(true)
		}
		rows += cursor + fmt.Sprintf("%-20s %-24s %-8s %s",
			style.Render(truncate(srv.id, 18)),
			style.Render(truncate(srv.name, 22)),
			style.Render(fmt.Sprint(srv.playerCount)),
			style.Render(formatAge(now, srv.connectedAt)),
		) + "\n"
	}

	if sel, ok := s.selected(); ok && sel.players != nil {
		list := strings.Join(sel.players, ", ")
		if list == "" {
			list = "nobody online"
		}
		rows += "\n" + tui.Description.Render("  Players on "+sel.id+": "+list)
	}
	return rows
}

func (s serversModel) height() int {
	return min(len(s.items)+3, 14)
}

// playerName renders a roster entry. Agents usually send {"name":...} objects
// but bare strings are common too.
func playerName(raw json.RawMessage) string {
	var obj struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Name != "" {
		return obj.Name
	}
	var name string
	if json.Unmarshal(raw, &name) == nil {
		return name
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

func formatAge(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
