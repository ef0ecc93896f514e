// Package notifier turns the broadcast stream of domain events into
// per-session list-changed notifications. For every (session, kind) pair
// it tracks the last sent content hash and timestamp, deduplicates
// recomputations that produce the same hash, and coalesces bursts within
// the throttle window into a single notification carrying the latest
// state at fire time.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
	"github.com/ion-ash/mcp-mux/internal/finitestate"
	"github.com/ion-ash/mcp-mux/internal/resolver"
	"github.com/ion-ash/mcp-mux/internal/sessions"
	"github.com/robbyt/go-supervisor/supervisor"
)

var (
	_ supervisor.Runnable  = (*Runner)(nil)
	_ supervisor.Stateable = (*Runner)(nil)
)

const defaultThrottleWindow = time.Second

type cellKey struct {
	sessionID uint64
	kind      domain.FeatureKind
}

// cell is the exclusively owned notification state of one (session, kind)
// pair. All access goes through Runner.mu.
type cell struct {
	session    *sessions.Session
	primed     bool
	lastHash   string
	lastSentAt time.Time
	timer      *time.Timer
}

// Runner consumes domain events and drives session notifications. It
// implements supervisor.Runnable.
type Runner struct {
	registry    *sessions.Registry
	resolver    *resolver.Resolver
	broadcaster *events.Broadcaster
	window      time.Duration

	logger *slog.Logger
	fsm    finitestate.Machine

	runCtx    context.Context
	runCancel context.CancelFunc
	parentCtx context.Context

	mu    sync.Mutex
	cells map[cellKey]*cell
}

// NewRunner creates a notifier over the given registry, resolver, and
// event stream. It installs itself as the registry's eviction handler so
// pending timers die with their session.
func NewRunner(
	registry *sessions.Registry,
	res *resolver.Resolver,
	broadcaster *events.Broadcaster,
	opts ...Option,
) (*Runner, error) {
	r := &Runner{
		registry:    registry,
		resolver:    res,
		broadcaster: broadcaster,
		window:      defaultThrottleWindow,
		logger:      slog.Default().WithGroup("notifier.Runner"),
		parentCtx:   context.Background(),
		cells:       make(map[cellKey]*cell),
	}
	for _, opt := range opts {
		opt(r)
	}

	fsmLogger := r.logger.WithGroup("fsm")
	machine, err := finitestate.New(fsmLogger.Handler())
	if err != nil {
		return nil, fmt.Errorf("failed to create state machine: %w", err)
	}
	r.fsm = machine

	registry.OnEvict(r.evict)
	return r, nil
}

// String implements the supervisor.Runnable interface
func (r *Runner) String() string {
	return "notifier.Runner"
}

// Run implements the supervisor.Runnable interface
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Debug("Starting Runner")

	if err := r.fsm.Transition(finitestate.StatusBooting); err != nil {
		return fmt.Errorf("failed to transition to booting state: %w", err)
	}

	r.runCtx, r.runCancel = context.WithCancel(ctx)
	defer r.runCancel()

	eventCh, cancelSub := r.broadcaster.Subscribe()
	defer cancelSub()

	if err := r.fsm.Transition(finitestate.StatusRunning); err != nil {
		return fmt.Errorf("failed to transition to running state: %w", err)
	}

loop:
	for {
		select {
		case <-r.parentCtx.Done():
			r.logger.Debug("Parent context canceled")
			break loop
		case <-r.runCtx.Done():
			r.logger.Debug("Run context canceled")
			break loop
		case event, ok := <-eventCh:
			if !ok {
				r.logger.Debug("Event stream closed")
				break loop
			}
			r.handleEvent(event)
		}
	}

	r.logger.Info("Runner shutting down")

	if r.fsm.GetState() != finitestate.StatusStopping {
		if err := r.fsm.Transition(finitestate.StatusStopping); err != nil {
			r.logger.Error("Failed to transition to stopping state", "error", err)
		}
	}

	r.dropAllCells()

	if err := r.fsm.Transition(finitestate.StatusStopped); err != nil {
		return fmt.Errorf("failed to transition to stopped state: %w", err)
	}
	return nil
}

// Stop implements the supervisor.Runnable interface
func (r *Runner) Stop() {
	r.logger.Debug("Stopping Runner")
	if err := r.fsm.Transition(finitestate.StatusStopping); err != nil {
		r.logger.Error("Failed to transition to stopping state", "error", err)
	}
	if r.runCancel != nil {
		r.runCancel()
	}
}

// Prime computes and records the initial hash of every kind for a freshly
// registered session without sending anything, so the first real change
// after connect is detected instead of always firing once on connect.
func (r *Runner) Prime(ctx context.Context, session *sessions.Session) {
	for _, kind := range domain.Kinds() {
		features, err := r.resolver.VisibleKind(ctx, session.ClientID, session.SpaceID, kind)
		if err != nil {
			// Leave the cell unprimed; the first refresh primes it silently.
			r.logger.Warn("priming recompute failed",
				"session_id", session.ID,
				"kind", kind,
				"error", err,
			)
			continue
		}
		hash := contentHash(features)

		r.mu.Lock()
		if session.Closed() {
			// Unregister runs evict under this same lock, so a cell
			// created past this point would never be cleaned up.
			r.mu.Unlock()
			return
		}
		c := r.cellLocked(session, kind)
		if !c.primed {
			c.primed = true
			c.lastHash = hash
		}
		r.mu.Unlock()
	}
}

// handleEvent fans one event out to every session in its scope. Sessions
// are independent, so the fan-out runs concurrently, but the runner waits
// for the pass to finish before consuming the next event.
func (r *Runner) handleEvent(event domain.Event) {
	sc, err := deriveScope(event)
	if err != nil {
		r.logger.Error("Dropping event with unknown scope", "error", err)
		return
	}

	var targets []*sessions.Session
	if sc.clientID != "" {
		targets = r.registry.ForClient(sc.clientID, sc.spaceID)
	} else {
		targets = r.registry.ForSpace(sc.spaceID)
	}
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, session := range targets {
		wg.Add(1)
		go func(session *sessions.Session) {
			defer wg.Done()
			for _, kind := range sc.kinds {
				r.refresh(r.runCtx, session, kind)
			}
		}(session)
	}
	wg.Wait()
}

// refresh recomputes one (session, kind) hash and decides between
// dedup-skip, immediate send, and scheduling a coalescing timer.
func (r *Runner) refresh(ctx context.Context, session *sessions.Session, kind domain.FeatureKind) {
	if session.Closed() {
		return
	}
	features, err := r.resolver.VisibleKind(ctx, session.ClientID, session.SpaceID, kind)
	if err != nil {
		// Treated as no change this cycle; the next event retries.
		r.logger.Warn("visible set recompute failed, skipping cycle",
			"session_id", session.ID,
			"kind", kind,
			"error", err,
		)
		return
	}
	newHash := contentHash(features)

	r.mu.Lock()
	if session.Closed() {
		// Rechecked under the lock: the unlocked check above can race
		// Unregister, and its evict holds this lock, so a cell created
		// here after eviction would leak.
		r.mu.Unlock()
		return
	}
	c := r.cellLocked(session, kind)

	if !c.primed {
		c.primed = true
		c.lastHash = newHash
		r.mu.Unlock()
		return
	}
	if newHash == c.lastHash {
		r.mu.Unlock()
		return
	}
	if c.timer != nil {
		// A coalescing timer is already pending; it rereads the latest
		// state when it fires, so this event needs no further action.
		r.mu.Unlock()
		return
	}
	now := time.Now()
	if wait := r.window - now.Sub(c.lastSentAt); wait > 0 {
		key := cellKey{sessionID: session.ID, kind: kind}
		c.timer = time.AfterFunc(wait, func() { r.fire(key, session, kind) })
		r.mu.Unlock()
		return
	}
	c.lastHash = newHash
	c.lastSentAt = now
	r.mu.Unlock()

	r.deliver(session, kind)
}

// fire runs when a throttle timer elapses. It clears the pending flag and
// recomputes from scratch, so the sent notification reflects the state at
// fire time rather than at schedule time.
func (r *Runner) fire(key cellKey, session *sessions.Session, kind domain.FeatureKind) {
	r.mu.Lock()
	c, ok := r.cells[key]
	if !ok {
		// Session evicted while the timer was in flight.
		r.mu.Unlock()
		return
	}
	c.timer = nil
	r.mu.Unlock()

	ctx := r.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	r.refresh(ctx, session, kind)
}

// deliver pushes one notification and handles a dead sink by evicting the
// session. One session's failure never aborts the fan-out to others.
func (r *Runner) deliver(session *sessions.Session, kind domain.FeatureKind) {
	err := session.Send(kind)
	if err == nil {
		return
	}
	if errors.Is(err, sessions.ErrSinkClosed) {
		r.logger.Debug("sink closed, evicting session",
			"session_id", session.ID,
			"client_id", session.ClientID,
		)
		r.registry.Unregister(session)
		return
	}
	r.logger.Warn("notification delivery failed",
		"session_id", session.ID,
		"kind", kind,
		"error", err,
	)
}

// evict drops all notification state of one session and cancels its
// pending timers. Installed as the registry's eviction handler.
func (r *Runner) evict(session *sessions.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range domain.Kinds() {
		key := cellKey{sessionID: session.ID, kind: kind}
		if c, ok := r.cells[key]; ok {
			if c.timer != nil {
				c.timer.Stop()
			}
			delete(r.cells, key)
		}
	}
}

func (r *Runner) dropAllCells() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.cells {
		if c.timer != nil {
			c.timer.Stop()
		}
		delete(r.cells, key)
	}
}

// cellLocked returns the cell for (session, kind), creating it unprimed
// if absent. Callers must hold r.mu.
func (r *Runner) cellLocked(session *sessions.Session, kind domain.FeatureKind) *cell {
	key := cellKey{sessionID: session.ID, kind: kind}
	c, ok := r.cells[key]
	if !ok {
		c = &cell{session: session}
		r.cells[key] = c
	}
	return c
}
