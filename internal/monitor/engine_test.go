package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/procsentry/procsentry/internal/snapshot"
)

type fakeResolver struct {
	mu    sync.Mutex
	pid   int32
	found bool
	err   error
	calls int
}

func (r *fakeResolver) Resolve(ctx context.Context, name string) (int32, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.pid, r.found, r.err
}

func (r *fakeResolver) set(pid int32, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pid = pid
	r.found = found
}

func (r *fakeResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeMetadata struct {
	mu   sync.Mutex
	snap snapshot.Snapshot
	err  error
}

func (m *fakeMetadata) Collect(ctx context.Context, pid int32, cats snapshot.Categories) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	snap := m.snap
	snap.PID = pid
	return snap.Clone(), nil
}

func (m *fakeMetadata) setMemory(rss uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Memory = &snapshot.MemoryStats{RSS: rss}
}

type fakeMedia struct {
	mu       sync.Mutex
	sessions []snapshot.MediaSession
	block    chan struct{} // non-nil: SessionsFor hangs until closed
}

func (m *fakeMedia) SessionsFor(ctx context.Context, pid int32) ([]snapshot.MediaSession, error) {
	m.mu.Lock()
	block := m.block
	sessions := append([]snapshot.MediaSession(nil), m.sessions...)
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return sessions, nil
}

type fakeWindows struct {
	mu      sync.Mutex
	windows []snapshot.Window
	active  *snapshot.Window
}

func (w *fakeWindows) WindowsFor(pid int32) ([]snapshot.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]snapshot.Window(nil), w.windows...), nil
}

func (w *fakeWindows) ActiveWindow(pid int32) (*snapshot.Window, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil, errors.New("no active window")
	}
	return w.active.Clone(), nil
}

func (w *fakeWindows) setActive(title string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = &snapshot.Window{ID: 7, Title: title, Visible: true}
}

func newTestEngine(t *testing.T, cfg Config, resolver *fakeResolver, meta *fakeMetadata, windows WindowSource, media MediaSource) *Engine {
	t.Helper()
	e, err := New(cfg, resolver, meta, windows, media)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestNewValidation(t *testing.T) {
	resolver := &fakeResolver{}
	meta := &fakeMetadata{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty executable", Config{Interval: time.Second}},
		{"zero interval", Config{ExecutableName: "app"}},
		{"negative interval", Config{ExecutableName: "app", Interval: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, resolver, meta, nil, nil); err == nil {
				t.Error("New() accepted invalid config")
			}
		})
	}

	valid := Config{ExecutableName: "app", Interval: time.Second}
	if _, err := New(valid, nil, meta, nil, nil); err == nil {
		t.Error("New() accepted nil resolver")
	}
	if _, err := New(valid, resolver, nil, nil, nil); err == nil {
		t.Error("New() accepted nil metadata source")
	}
}

// TestScenario walks the canonical sequence: found with 50MB, found
// unchanged, found with 55MB, then gone.
func TestScenario(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app.exe"}}
	meta.setMemory(50 << 20)

	var callbacks atomic.Int32
	cfg := Config{
		ExecutableName: "app.exe",
		Interval:       3 * time.Second,
		Categories:     snapshot.Categories{Basic: true, Memory: true},
		OnChange:       func(*snapshot.Snapshot) { callbacks.Add(1) },
	}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	// Tick 1: process appears.
	changed, err := e.runCheck()
	if err != nil || !changed {
		t.Fatalf("tick 1: changed=%v err=%v, want changed with no error", changed, err)
	}
	st := e.State()
	if !st.IsActive {
		t.Error("tick 1: state not active")
	}
	if st.LastMetadata == nil || st.LastMetadata.Memory.RSS != 50<<20 {
		t.Errorf("tick 1: memory = %+v, want 50MB", st.LastMetadata)
	}
	if callbacks.Load() != 1 {
		t.Errorf("tick 1: callbacks = %d, want 1", callbacks.Load())
	}

	// Tick 2: identical snapshot, no change expected.
	firstUpdate := st.LastUpdate
	changed, err = e.runCheck()
	if err != nil || changed {
		t.Fatalf("tick 2: changed=%v err=%v, want no change", changed, err)
	}
	if callbacks.Load() != 1 {
		t.Errorf("tick 2: callbacks = %d, want still 1", callbacks.Load())
	}
	if got := e.State().LastUpdate; !got.Equal(firstUpdate) {
		t.Error("tick 2: LastUpdate bumped on a no-op tick")
	}

	// Tick 3: memory grows.
	meta.setMemory(55 << 20)
	changed, err = e.runCheck()
	if err != nil || !changed {
		t.Fatalf("tick 3: changed=%v err=%v, want changed", changed, err)
	}
	if callbacks.Load() != 2 {
		t.Errorf("tick 3: callbacks = %d, want 2", callbacks.Load())
	}

	// Tick 4: process disappears.
	resolver.set(0, false)
	changed, err = e.runCheck()
	if err != nil || !changed {
		t.Fatalf("tick 4: changed=%v err=%v, want changed", changed, err)
	}
	st = e.State()
	if st.IsActive {
		t.Error("tick 4: state still active")
	}
	if st.LastMetadata == nil {
		t.Error("tick 4: last metadata cleared on deactivation")
	}

	// Tick 5: still gone, no further change.
	changed, err = e.runCheck()
	if err != nil || changed {
		t.Fatalf("tick 5: changed=%v err=%v, want no change", changed, err)
	}
}

func TestNewProcessDetection(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: time.Second, Categories: snapshot.DefaultCategories()}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	if changed, _ := e.runCheck(); !changed {
		t.Fatal("first check did not report change")
	}
	if changed, _ := e.runCheck(); changed {
		t.Fatal("second identical check reported change")
	}

	// Same name, same fields, new pid: a restart must be reported even though
	// every compared field is equal.
	resolver.set(101, true)
	if changed, _ := e.runCheck(); !changed {
		t.Error("pid change not reported")
	}
	if got := e.State().LastMetadata.PID; got != 101 {
		t.Errorf("stored pid = %d, want 101", got)
	}
}

func TestReactivationReports(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: time.Second}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	e.runCheck()
	resolver.set(0, false)
	e.runCheck()

	// Same pid comes back with identical fields: inactive→active must report.
	resolver.set(100, true)
	changed, err := e.runCheck()
	if err != nil || !changed {
		t.Fatalf("reactivation: changed=%v err=%v, want changed", changed, err)
	}
	if !e.State().IsActive {
		t.Error("reactivation: state not active")
	}
}

func TestActiveWindowChangeWithoutMetadataChange(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "browser"}}
	windows := &fakeWindows{}
	windows.setActive("Tab One")

	cfg := Config{
		ExecutableName: "browser",
		Interval:       time.Second,
		Categories:     snapshot.Categories{Basic: true, Windows: true},
	}
	e := newTestEngine(t, cfg, resolver, meta, windows, nil)

	if changed, _ := e.runCheck(); !changed {
		t.Fatal("first check did not report change")
	}
	if got := e.State().LastActiveWindow; got == nil || got.Title != "Tab One" {
		t.Fatalf("active window = %+v, want Tab One", got)
	}

	// Only the foreground tab changes; every diffed metadata field is equal.
	windows.setActive("Tab Two")
	changed, err := e.runCheck()
	if err != nil || !changed {
		t.Fatalf("tab switch: changed=%v err=%v, want changed", changed, err)
	}
	if got := e.State().LastActiveWindow.Title; got != "Tab Two" {
		t.Errorf("active window title = %q, want Tab Two", got)
	}

	if changed, _ := e.runCheck(); changed {
		t.Error("unchanged tab reported as change")
	}
}

func TestMediaSessionsMerged(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "player"}}
	media := &fakeMedia{sessions: []snapshot.MediaSession{{Owner: "org.mpris.MediaPlayer2.player", Title: "Song A"}}}

	cfg := Config{
		ExecutableName: "player",
		Interval:       time.Second,
		Categories:     snapshot.Categories{Basic: true, Media: true},
	}
	e := newTestEngine(t, cfg, resolver, meta, nil, media)

	e.runCheck()
	st := e.State()
	if len(st.LastMetadata.MediaSessions) != 1 || st.LastMetadata.MediaSessions[0].Title != "Song A" {
		t.Fatalf("media sessions = %+v, want Song A", st.LastMetadata.MediaSessions)
	}

	media.mu.Lock()
	media.sessions[0].Title = "Song B"
	media.mu.Unlock()
	if changed, _ := e.runCheck(); !changed {
		t.Error("media title change not reported")
	}
}

// TestHangingMediaBoundedByTimeout verifies the tick's total duration is
// bounded even when the media source never returns.
func TestHangingMediaBoundedByTimeout(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "player"}}
	media := &fakeMedia{block: make(chan struct{})}
	defer close(media.block)

	cfg := Config{
		ExecutableName: "player",
		Interval:       time.Second,
		Categories:     snapshot.Categories{Basic: true, Media: true},
	}
	e := newTestEngine(t, cfg, resolver, meta, nil, media)
	e.checkTimeout = 50 * time.Millisecond

	start := time.Now()
	changed, err := e.runCheck()
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Fatalf("check took %v, want bounded by timeout", elapsed)
	}
	// The media worker gives up at the deadline; depending on scheduling the
	// check either times out outright or completes with zero sessions.
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = changed

	// Let the abandoned worker observe its deadline and release the lock.
	time.Sleep(20 * time.Millisecond)

	// The loop must be able to run the next check normally.
	media.mu.Lock()
	media.block = nil
	media.mu.Unlock()
	e.checkTimeout = DefaultCheckTimeout
	if _, err := e.runCheck(); err != nil {
		t.Fatalf("follow-up check failed: %v", err)
	}
	if !e.State().IsActive {
		t.Error("follow-up check did not activate state")
	}
}

func TestStateBusy(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: time.Second}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	e.mu.Lock()
	defer e.mu.Unlock()

	if changed, err := e.runCheck(); !errors.Is(err, ErrStateBusy) || changed {
		t.Errorf("contended check: changed=%v err=%v, want ErrStateBusy", changed, err)
	}

	// State() favors availability: it returns an empty value immediately.
	if st := e.State(); st.IsActive || st.LastMetadata != nil {
		t.Errorf("contended State() = %+v, want empty", st)
	}
}

func TestCollectionFailureLeavesStateUntouched(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: time.Second}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)
	e.runCheck()

	meta.mu.Lock()
	meta.err = errors.New("access denied")
	meta.mu.Unlock()

	changed, err := e.runCheck()
	if err == nil || changed {
		t.Fatalf("failed collection: changed=%v err=%v, want error and no change", changed, err)
	}
	if !e.State().IsActive {
		t.Error("failed collection deactivated state")
	}
}

func TestCallbackPanicRecovered(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{
		ExecutableName: "app",
		Interval:       time.Second,
		OnChange:       func(*snapshot.Snapshot) { panic("consumer bug") },
	}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	changed, err := e.runCheck()
	if err != nil || !changed {
		t.Fatalf("check with panicking callback: changed=%v err=%v", changed, err)
	}
	if !e.State().IsActive {
		t.Error("panicking callback corrupted state")
	}
}

func TestStateCopyIsolation(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app", WindowTitle: "Main"}}
	meta.setMemory(10 << 20)
	cfg := Config{ExecutableName: "app", Interval: time.Second}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)
	e.runCheck()

	st := e.State()
	st.LastMetadata.WindowTitle = "tampered"
	st.LastMetadata.Memory.RSS = 0

	fresh := e.State()
	if fresh.LastMetadata.WindowTitle != "Main" || fresh.LastMetadata.Memory.RSS != 10<<20 {
		t.Error("State() copy aliases engine-owned snapshot")
	}
}

func TestSubscribe(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: time.Second}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	ch := e.Subscribe()
	e.runCheck()

	select {
	case ev := <-ch:
		if !ev.IsActive || ev.Snapshot == nil {
			t.Errorf("event = %+v, want active with snapshot", ev)
		}
	default:
		t.Fatal("no event published on change")
	}

	resolver.set(0, false)
	e.runCheck()
	select {
	case ev := <-ch:
		if ev.IsActive {
			t.Error("deactivation event marked active")
		}
	default:
		t.Fatal("no event published on deactivation")
	}

	e.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Error("unsubscribed channel left open")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	resolver := &fakeResolver{pid: 100, found: true}
	meta := &fakeMetadata{snap: snapshot.Snapshot{Name: "app"}}
	cfg := Config{ExecutableName: "app", Interval: 5 * time.Millisecond}
	e := newTestEngine(t, cfg, resolver, meta, nil, nil)

	e.Start()
	e.Start() // idempotent
	if !e.IsRunning() {
		t.Fatal("engine not running after Start")
	}

	deadline := time.Now().Add(2 * time.Second)
	for resolver.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if resolver.callCount() < 2 {
		t.Fatal("loop did not tick")
	}

	e.Stop()
	e.Stop() // idempotent
	if e.IsRunning() {
		t.Fatal("engine still running after Stop")
	}

	// Allow any in-flight tick to finish, then verify no further ticks begin.
	time.Sleep(50 * time.Millisecond)
	settled := resolver.callCount()
	time.Sleep(50 * time.Millisecond)
	if got := resolver.callCount(); got != settled {
		t.Errorf("ticks continued after Stop: %d -> %d", settled, got)
	}

	// The engine restarts cleanly.
	e.Start()
	deadline = time.Now().Add(2 * time.Second)
	for resolver.callCount() <= settled && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if resolver.callCount() <= settled {
		t.Error("loop did not resume after restart")
	}
	e.Stop()
}
