package monitor

import (
	"context"

	"github.com/procsentry/procsentry/internal/snapshot"
)

// Resolver maps an executable name to a currently running process id.
// found is false when no matching process exists; err is reserved for the
// enumeration itself failing.
type Resolver interface {
	Resolve(ctx context.Context, executableName string) (pid int32, found bool, err error)
}

// MetadataSource produces a best-effort snapshot of one process. Individual
// fields default to absent on failure; only an unopenable process is a hard
// error.
type MetadataSource interface {
	Collect(ctx context.Context, pid int32, cats snapshot.Categories) (*snapshot.Snapshot, error)
}

// WindowSource enumerates the windows of one process and identifies the
// foreground/content window. Implementations may be unavailable (no display);
// callers treat every error as "no window data this tick".
type WindowSource interface {
	WindowsFor(pid int32) ([]snapshot.Window, error)
	ActiveWindow(pid int32) (*snapshot.Window, error)
}

// MediaSource returns the media sessions attributable to one process. It is
// not assumed reentrant or shareable across goroutines: the engine invokes it
// from a dedicated single-use worker per call and bounds it with the tick
// timeout.
type MediaSource interface {
	SessionsFor(ctx context.Context, pid int32) ([]snapshot.MediaSession, error)
}
