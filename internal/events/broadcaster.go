// Package events provides the in-process broadcast stream of domain
// events. Publication is fan-out: every live subscriber receives every
// event published after it subscribed. Delivery is at-most-once; there is
// no replay for late subscribers.
package events

import (
	"log/slog"
	"sync"

	"github.com/ion-ash/mcp-mux/internal/domain"
)

const defaultBufferSize = 64

// Broadcaster fans domain events out to subscribers. The zero value is not
// usable; construct with NewBroadcaster.
type Broadcaster struct {
	logger *slog.Logger
	buffer int

	mu     sync.Mutex
	subs   map[uint64]chan domain.Event
	nextID uint64
	closed bool
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithLogHandler sets a custom log handler for the Broadcaster.
func WithLogHandler(handler slog.Handler) Option {
	return func(b *Broadcaster) {
		b.logger = slog.New(handler)
	}
}

// WithBufferSize sets the per-subscriber channel buffer.
func WithBufferSize(n int) Option {
	return func(b *Broadcaster) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBroadcaster creates a Broadcaster with an empty subscriber list.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		logger: slog.Default().WithGroup("events.Broadcaster"),
		buffer: defaultBufferSize,
		subs:   make(map[uint64]chan domain.Event),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed by cancel or by Close; the
// subscriber must never close it.
func (b *Broadcaster) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber. It never blocks:
// a subscriber whose buffer is full misses the event, which is logged and
// tolerated because the next event re-triggers the same recomputation.
func (b *Broadcaster) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Warn("subscriber buffer full, dropping event",
				"subscriber_id", id,
				"event", eventName(event),
				"space_id", event.EventSpace(),
			)
		}
	}
}

// Close shuts the broadcaster down and closes all subscriber channels.
// Publish and Subscribe become no-ops afterwards.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

func eventName(event domain.Event) string {
	switch event.(type) {
	case domain.ToolsChanged:
		return "tools_changed"
	case domain.PromptsChanged:
		return "prompts_changed"
	case domain.ResourcesChanged:
		return "resources_changed"
	case domain.ServerStatusChanged:
		return "server_status_changed"
	case domain.ServerFeaturesRefreshed:
		return "server_features_refreshed"
	case domain.GrantIssued:
		return "grant_issued"
	case domain.GrantRevoked:
		return "grant_revoked"
	default:
		return "unknown"
	}
}
