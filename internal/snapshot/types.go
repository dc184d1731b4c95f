// Package snapshot defines the per-tick view of a monitored process and the
// pure change-detection logic over two such views.
package snapshot

import "time"

// Categories selects which groups of metadata a collection pass should
// attempt to resolve. Everything not requested stays absent on the snapshot.
type Categories struct {
	Basic       bool `json:"basic" yaml:"basic"`
	Memory      bool `json:"memory" yaml:"memory"`
	Windows     bool `json:"windows" yaml:"windows"`
	CPU         bool `json:"cpu" yaml:"cpu"`
	Threads     bool `json:"threads" yaml:"threads"`
	Modules     bool `json:"modules" yaml:"modules"`
	Handles     bool `json:"handles" yaml:"handles"`
	Environment bool `json:"environment" yaml:"environment"`
	Media       bool `json:"media" yaml:"media"`
}

// DefaultCategories returns the set tuned for continuous monitoring: the
// cheap, change-relevant groups on, the expensive ones off.
func DefaultCategories() Categories {
	return Categories{
		Basic:   true,
		Memory:  true,
		Windows: true,
		Handles: true,
		Media:   true,
	}
}

// AllCategories returns every group enabled, for one-shot inspection.
func AllCategories() Categories {
	return Categories{
		Basic:       true,
		Memory:      true,
		Windows:     true,
		CPU:         true,
		Threads:     true,
		Modules:     true,
		Handles:     true,
		Environment: true,
		Media:       true,
	}
}

// Snapshot is the externally visible state of one process at one instant.
// Fields are zero/nil when their category was not requested or the data
// could not be obtained.
type Snapshot struct {
	PID       int32  `json:"pid"`
	ParentPID int32  `json:"parent_pid,omitempty"`
	Name      string `json:"name"`

	ExecutablePath   string `json:"executable_path,omitempty"`
	CommandLine      string `json:"command_line,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	WindowTitle      string `json:"window_title,omitempty"`

	CreateTime time.Time `json:"create_time,omitzero"`

	Memory *MemoryStats `json:"memory,omitempty"`
	CPU    *CPUStats    `json:"cpu,omitempty"`

	ThreadCount int32 `json:"thread_count,omitempty"`
	HandleCount int32 `json:"handle_count,omitempty"`

	Windows       []Window          `json:"windows,omitempty"`
	Threads       []Thread          `json:"threads,omitempty"`
	Modules       []Module          `json:"modules,omitempty"`
	MediaSessions []MediaSession    `json:"media_sessions,omitempty"`
	Environment   map[string]string `json:"environment,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// MemoryStats holds the process memory counters that matter for diffing.
type MemoryStats struct {
	RSS  uint64 `json:"rss"`
	VMS  uint64 `json:"vms"`
	Swap uint64 `json:"swap,omitempty"`
}

// CPUStats holds cumulative CPU time split by mode.
type CPUStats struct {
	UserSeconds   float64 `json:"user_seconds"`
	SystemSeconds float64 `json:"system_seconds"`
}

// Window describes one top-level window owned by the process.
type Window struct {
	ID      uint32 `json:"id"`
	Title   string `json:"title"`
	Class   string `json:"class,omitempty"`
	PID     int32  `json:"pid"`
	Visible bool   `json:"visible"`
	Rect    *Rect  `json:"rect,omitempty"`
}

// Rect is a window rectangle in screen coordinates.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Thread describes one thread of the process.
type Thread struct {
	ID            int32   `json:"id"`
	UserSeconds   float64 `json:"user_seconds"`
	SystemSeconds float64 `json:"system_seconds"`
}

// Module describes one file mapped into the process.
type Module struct {
	Path string `json:"path"`
	Size uint64 `json:"size,omitempty"`
}

// MediaSession describes one active media-player session attributed to the
// process: who is playing and what.
type MediaSession struct {
	Owner          string `json:"owner"`
	PlayerName     string `json:"player_name,omitempty"`
	PlaybackStatus string `json:"playback_status,omitempty"`
	Title          string `json:"title,omitempty"`
	Artist         string `json:"artist,omitempty"`
	Album          string `json:"album,omitempty"`
	TrackID        string `json:"track_id,omitempty"`
}

// Clone returns a deep copy of the snapshot. Readers of monitor state get
// clones so the engine's stored value is never aliased by callers.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Windows = cloneWindows(s.Windows)
	out.Threads = append([]Thread(nil), s.Threads...)
	out.Modules = append([]Module(nil), s.Modules...)
	out.MediaSessions = append([]MediaSession(nil), s.MediaSessions...)
	if s.Memory != nil {
		m := *s.Memory
		out.Memory = &m
	}
	if s.CPU != nil {
		c := *s.CPU
		out.CPU = &c
	}
	if s.Environment != nil {
		out.Environment = make(map[string]string, len(s.Environment))
		for k, v := range s.Environment {
			out.Environment[k] = v
		}
	}
	return &out
}

func cloneWindows(ws []Window) []Window {
	if ws == nil {
		return nil
	}
	out := make([]Window, len(ws))
	for i, w := range ws {
		out[i] = w
		if w.Rect != nil {
			r := *w.Rect
			out[i].Rect = &r
		}
	}
	return out
}

// Clone returns a copy of the window with its own rectangle.
func (w *Window) Clone() *Window {
	if w == nil {
		return nil
	}
	out := *w
	if w.Rect != nil {
		r := *w.Rect
		out.Rect = &r
	}
	return &out
}
