package watch

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// Stream is the part of client.Observer the view consumes.
type Stream interface {
	Events() <-chan protocol.Event
	Err() error
}

// Run shows the watch view until the user quits or ctx is cancelled.
func Run(ctx context.Context, stream Stream, hubURL string, servers []protocol.ServerSummary) error {
	p := tea.NewProgram(NewModel(hubURL, servers, time.Now()), tea.WithAltScreen(), tea.WithContext(ctx))

	go Forward(stream, p.Send)

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// Forward relays the stream into send until it closes, then sends a
// ClosedMsg.
func Forward(stream Stream, send func(tea.Msg)) {
	for ev := range stream.Events() {
		send(EventMsg{Event: ev, At: time.Now()})
	}
	send(ClosedMsg{Err: stream.Err()})
}
