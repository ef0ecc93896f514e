// Package sessions tracks live inbound client sessions and the sink each
// one exposes for change notifications.
package sessions

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/domain"
)

// ErrSinkClosed reports that the session's transport is gone. The caller
// is expected to unregister the session; the error itself is recoverable.
var ErrSinkClosed = errors.New("session sink closed")

// Sink delivers a list-changed signal of one kind to a connected client.
// Implementations must return ErrSinkClosed once the underlying transport
// has shut down.
type Sink interface {
	Send(kind domain.FeatureKind) error
}

// Session is one registered client connection. The space is fixed at
// registration time; a client changes space by reconnecting.
type Session struct {
	ID       uint64
	ClientID string
	SpaceID  uuid.UUID

	sink   Sink
	closed atomic.Bool
}

// Closed reports whether the session has been unregistered.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Send pushes a notification through the session's sink. After the
// session is unregistered Send is a silent no-op, so a racing timer fire
// can never error against a torn-down session.
func (s *Session) Send(kind domain.FeatureKind) error {
	if s.closed.Load() {
		return nil
	}
	return s.sink.Send(kind)
}

// Registry is the concurrent session table. Iteration methods return
// snapshots, so callers may register and unregister freely while a
// notification pass walks an earlier snapshot.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   uint64
	onEvict  func(*Session)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogHandler sets a custom log handler for the Registry.
func WithLogHandler(handler slog.Handler) Option {
	return func(r *Registry) {
		r.logger = slog.New(handler)
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:   slog.Default().WithGroup("sessions.Registry"),
		sessions: make(map[uint64]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvict installs a callback invoked after every unregistration, outside
// the registry lock. The notifier uses it to drop per-session state and
// cancel pending timers. Only one callback is supported.
func (r *Registry) OnEvict(fn func(*Session)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Register adds a session for the client scoped to the given space.
func (r *Registry) Register(clientID string, spaceID uuid.UUID, sink Sink) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s := &Session{
		ID:       r.nextID,
		ClientID: clientID,
		SpaceID:  spaceID,
		sink:     sink,
	}
	r.sessions[s.ID] = s
	r.logger.Debug("session registered",
		"session_id", s.ID,
		"client_id", clientID,
		"space_id", spaceID,
	)
	return s
}

// Unregister removes the session and marks it closed. It is idempotent
// and never blocks on in-flight notification work.
func (r *Registry) Unregister(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	_, live := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	onEvict := r.onEvict
	r.mu.Unlock()

	if !live {
		return
	}
	s.closed.Store(true)
	r.logger.Debug("session unregistered",
		"session_id", s.ID,
		"client_id", s.ClientID,
		"space_id", s.SpaceID,
	)
	if onEvict != nil {
		onEvict(s)
	}
}

// ForSpace returns a snapshot of the sessions scoped to the space.
func (r *Registry) ForSpace(spaceID uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.SpaceID == spaceID {
			out = append(out, s)
		}
	}
	return out
}

// ForClient returns a snapshot of the client's sessions within the space.
func (r *Registry) ForClient(clientID string, spaceID uuid.UUID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.ClientID == clientID && s.SpaceID == spaceID {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
