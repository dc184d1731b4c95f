// Package monitor implements the monitoring engine: a periodic scheduler that
// re-resolves one named process each tick, assembles a consistent snapshot
// from heterogeneous sources under a fixed time budget, and reports material
// changes against the last known state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/snapshot"
)

// DefaultCheckTimeout bounds one guarded check. It is fixed and independent
// of the tick interval.
const DefaultCheckTimeout = 5 * time.Second

// ErrStateBusy is reported when a tick or reader could not acquire the state
// immediately. The operation is skipped rather than blocked; the next tick
// retries.
var ErrStateBusy = errors.New("monitor state busy")

// Config is the immutable per-engine configuration. It is copied at
// construction and never read back from the caller.
type Config struct {
	// ExecutableName is the process to observe, matched case-insensitively
	// against running process names each tick.
	ExecutableName string

	// Interval is the tick cadence. Must be positive.
	Interval time.Duration

	// Categories selects which metadata groups each tick collects.
	Categories snapshot.Categories

	// OnChange, when set, is invoked synchronously with the tick's snapshot
	// after state has been updated. A panic inside it is recovered and
	// logged; it cannot corrupt engine state or stop the loop.
	OnChange func(*snapshot.Snapshot)
}

func (c Config) validate() error {
	if c.ExecutableName == "" {
		return errors.New("executable name is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	return nil
}

// State is the engine's shared observable state. Readers receive a deep copy
// of the whole value, never a partially updated view.
type State struct {
	LastMetadata     *snapshot.Snapshot `json:"last_metadata,omitempty"`
	LastActiveWindow *snapshot.Window   `json:"last_active_window,omitempty"`
	IsActive         bool               `json:"is_active"`
	LastUpdate       time.Time          `json:"-"`
}

func (s State) clone() State {
	s.LastMetadata = s.LastMetadata.Clone()
	s.LastActiveWindow = s.LastActiveWindow.Clone()
	return s
}

// Event is published to subscribers on every reportable change, including
// the active/inactive transitions.
type Event struct {
	IsActive     bool               `json:"is_active"`
	Snapshot     *snapshot.Snapshot `json:"snapshot,omitempty"`
	ActiveWindow *snapshot.Window   `json:"active_window,omitempty"`
	At           time.Time          `json:"at"`
}

// Engine monitors a single named process. One engine observes one target;
// construct another engine for another target.
type Engine struct {
	cfg      Config
	resolver Resolver
	metadata MetadataSource
	windows  WindowSource
	media    MediaSource

	checkTimeout time.Duration

	mu    sync.Mutex
	state State

	running  atomic.Bool
	stopMu   sync.Mutex
	stopChan chan struct{}

	listenerMu sync.Mutex
	listeners  []chan Event
}

// New validates the configuration and wires the engine to its collaborators.
// windows and media may be nil when the corresponding source is unavailable;
// those categories then stay absent on every snapshot.
func New(cfg Config, resolver Resolver, metadata MetadataSource, windows WindowSource, media MediaSource) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata source is required")
	}
	return &Engine{
		cfg:          cfg,
		resolver:     resolver,
		metadata:     metadata,
		windows:      windows,
		media:        media,
		checkTimeout: DefaultCheckTimeout,
	}, nil
}

// Target returns the executable name this engine observes.
func (e *Engine) Target() string {
	return e.cfg.ExecutableName
}

// Interval returns the configured tick cadence.
func (e *Engine) Interval() time.Duration {
	return e.cfg.Interval
}

// Start launches the periodic loop. It is idempotent: a second Start while
// running returns immediately. It returns once the loop is scheduled, without
// waiting for the first tick.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.stopMu.Lock()
	e.stopChan = make(chan struct{})
	stop := e.stopChan
	e.stopMu.Unlock()

	logger.WithComponent("engine").Info().
		Str("target", e.cfg.ExecutableName).
		Dur("interval", e.cfg.Interval).
		Msg("monitoring started")

	go e.loop(stop)
}

// Stop clears the run flag. It does not cancel the in-flight tick; the loop
// observes the flag and exits before the next check begins.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	e.stopMu.Lock()
	if e.stopChan != nil {
		close(e.stopChan)
		e.stopChan = nil
	}
	e.stopMu.Unlock()
	logger.WithComponent("engine").Info().
		Str("target", e.cfg.ExecutableName).
		Msg("monitoring stopped")
}

// IsRunning reports whether the loop is scheduled.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// State returns a point-in-time copy of the monitor state. It never blocks:
// when a tick holds the state, an empty State is returned instead of waiting.
func (e *Engine) State() State {
	if !e.mu.TryLock() {
		logger.WithComponent("engine").Debug().Msg("state busy, returning empty state")
		return State{}
	}
	defer e.mu.Unlock()
	return e.state.clone()
}

// Subscribe returns a channel receiving change events. Sends are
// non-blocking: a full channel drops the event rather than stalling a tick.
func (e *Engine) Subscribe() chan Event {
	ch := make(chan Event, 16)
	e.listenerMu.Lock()
	e.listeners = append(e.listeners, ch)
	e.listenerMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (e *Engine) Unsubscribe(ch chan Event) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	for i, listener := range e.listeners {
		if listener == ch {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// loop runs one check per tick until stopped. A ticker keeps the cadence
// fixed-rate: an overrunning tick coalesces into a single immediate
// re-evaluation instead of double-firing.
func (e *Engine) loop(stop <-chan struct{}) {
	log := logger.WithComponent("engine")
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if !e.running.Load() {
			return
		}

		changed, err := e.runCheck()
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			log.Warn().
				Str("target", e.cfg.ExecutableName).
				Dur("timeout", e.checkTimeout).
				Msg("check timed out")
		case errors.Is(err, ErrStateBusy):
			log.Debug().Msg("state busy, check skipped")
		case err != nil:
			log.Error().Err(err).
				Str("target", e.cfg.ExecutableName).
				Msg("check failed")
		case changed:
			log.Debug().
				Str("target", e.cfg.ExecutableName).
				Msg("change detected")
		}
	}
}

// runCheck executes one guarded check under the fixed timeout. On timeout
// the check is abandoned: its goroutine re-checks the context before any
// state mutation, so a late result is never applied.
func (e *Engine) runCheck() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.checkTimeout)
	defer cancel()

	type result struct {
		changed bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		changed, err := e.check(ctx)
		done <- result{changed, err}
	}()

	select {
	case r := <-done:
		return r.changed, r.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// check produces one consistent view of the target process and applies it to
// the shared state.
func (e *Engine) check(ctx context.Context) (bool, error) {
	log := logger.WithComponent("engine")

	pid, found, err := e.resolver.Resolve(ctx, e.cfg.ExecutableName)
	if err != nil {
		// Resolution failure is a valid terminal state for the tick, not an
		// error to surface.
		log.Debug().Err(err).Str("target", e.cfg.ExecutableName).Msg("resolution failed")
		found = false
	}
	if !found {
		return e.applyNotFound(ctx)
	}

	snap, err := e.metadata.Collect(ctx, pid, e.cfg.Categories)
	if err != nil {
		return false, fmt.Errorf("collect metadata for pid %d: %w", pid, err)
	}

	var active *snapshot.Window
	if e.cfg.Categories.Windows && e.windows != nil {
		if windows, err := e.windows.WindowsFor(pid); err == nil {
			snap.Windows = windows
			if snap.WindowTitle == "" {
				snap.WindowTitle = firstVisibleTitle(windows)
			}
		} else {
			log.Debug().Err(err).Int32("pid", pid).Msg("window enumeration unavailable")
		}
		if w, err := e.windows.ActiveWindow(pid); err == nil {
			active = w
		}
	}

	if e.cfg.Categories.Media && e.media != nil {
		snap.MediaSessions = e.queryMedia(ctx, pid)
	}

	return e.applyFound(ctx, snap, active)
}

// queryMedia runs the media source on a dedicated single-use worker and joins
// the result back into the tick. The buffered channel lets a late result be
// dropped instead of leaking the worker.
func (e *Engine) queryMedia(ctx context.Context, pid int32) []snapshot.MediaSession {
	type result struct {
		sessions []snapshot.MediaSession
		err      error
	}
	done := make(chan result, 1)
	go func() {
		sessions, err := e.media.SessionsFor(ctx, pid)
		done <- result{sessions, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			// Media absence or failure means zero sessions, never a failed tick.
			logger.WithComponent("engine").Debug().Err(r.err).Int32("pid", pid).Msg("media query failed")
			return nil
		}
		return r.sessions
	case <-ctx.Done():
		return nil
	}
}

// applyFound merges a fresh snapshot into the state. The state lock is
// try-acquired: contention aborts the tick with ErrStateBusy instead of
// blocking the scheduler.
func (e *Engine) applyFound(ctx context.Context, snap *snapshot.Snapshot, active *snapshot.Window) (bool, error) {
	if !e.mu.TryLock() {
		return false, ErrStateBusy
	}

	// an abandoned check must not land after its deadline
	if ctx.Err() != nil {
		e.mu.Unlock()
		return false, ctx.Err()
	}

	changed := false

	newProcess := e.state.LastMetadata == nil || e.state.LastMetadata.PID != snap.PID
	if newProcess || !e.state.IsActive || snapshot.Changed(e.state.LastMetadata, snap) {
		e.state.LastMetadata = snap
		e.state.IsActive = true
		e.state.LastUpdate = time.Now()
		changed = true
	}

	// The content window can change while every diffed metadata field stays
	// equal, so this is evaluated independently of the snapshot diff.
	if active != nil && (e.state.LastActiveWindow == nil || e.state.LastActiveWindow.Title != active.Title) {
		e.state.LastActiveWindow = active
		e.state.LastUpdate = time.Now()
		changed = true
	}

	var ev Event
	if changed {
		ev = Event{
			IsActive:     true,
			Snapshot:     snap.Clone(),
			ActiveWindow: e.state.LastActiveWindow.Clone(),
			At:           e.state.LastUpdate,
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify(ev.Snapshot, ev)
	}
	return changed, nil
}

// applyNotFound records the disappearance of the target. The first
// found→not-found tick reports a change; further not-found ticks are no-ops.
func (e *Engine) applyNotFound(ctx context.Context) (bool, error) {
	if !e.mu.TryLock() {
		return false, ErrStateBusy
	}

	if ctx.Err() != nil {
		e.mu.Unlock()
		return false, ctx.Err()
	}

	if !e.state.IsActive {
		e.mu.Unlock()
		return false, nil
	}

	e.state.IsActive = false
	e.state.LastUpdate = time.Now()
	ev := Event{
		IsActive: false,
		Snapshot: e.state.LastMetadata.Clone(),
		At:       e.state.LastUpdate,
	}
	e.mu.Unlock()

	logger.WithComponent("engine").Info().
		Str("target", e.cfg.ExecutableName).
		Msg("target process disappeared")

	// Deactivation is a state transition like any other and notifies too.
	e.notify(ev.Snapshot, ev)
	return true, nil
}

// notify invokes the configured callback and publishes the event. The
// callback runs outside the state lock and outside the engine's failure
// domain.
func (e *Engine) notify(snap *snapshot.Snapshot, ev Event) {
	if e.cfg.OnChange != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithComponent("engine").Error().
						Interface("panic", r).
						Msg("change callback panicked")
				}
			}()
			e.cfg.OnChange(snap)
		}()
	}

	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	for _, listener := range e.listeners {
		select {
		case listener <- ev:
		default:
			// Listener is not keeping up, drop the event.
		}
	}
}

func firstVisibleTitle(windows []snapshot.Window) string {
	for _, w := range windows {
		if w.Visible && w.Title != "" {
			return w.Title
		}
	}
	for _, w := range windows {
		if w.Title != "" {
			return w.Title
		}
	}
	return ""
}
