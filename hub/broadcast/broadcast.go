// Package broadcast fans agent state changes out to every connected observer.
package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/abracadabra-mc/abracadabra/pkg/protocol"
)

// subscriberBufferSize is the channel buffer for each observer.
const subscriberBufferSize = 64

// Broadcaster is an in-memory pub/sub with no targeting: every subscriber
// sees every event and filters for itself.
type Broadcaster struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]chan protocol.Event // sub_id -> ch
	closed      bool
}

// New creates a broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		logger:      logger.With("component", "broadcaster"),
		subscribers: make(map[string]chan protocol.Event),
	}
}

// Subscribe registers an observer. The subscription ends when ctx is
// cancelled, at which point the returned channel is closed. Subscribing to a
// closed broadcaster yields an already closed channel.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan protocol.Event, string) {
	subID := uuid.New().String()
	ch := make(chan protocol.Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers ev to every subscriber without blocking. A subscriber whose
// buffer is full misses the event.
func (b *Broadcaster) Publish(ev protocol.Event) {
	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send; they never block, so the lock is held briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber", "sub_id", id, "event", ev.Name)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Len returns the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later Publish calls are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
