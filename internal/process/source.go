// Package process implements the resolver and metadata source over the
// operating system's process table.
package process

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/procsentry/procsentry/internal/snapshot"
	"github.com/shirou/gopsutil/v4/process"
)

// Source resolves executable names to pids and collects per-process
// metadata. It is stateless and safe for concurrent use.
type Source struct{}

// NewSource creates a process source.
func NewSource() *Source {
	return &Source{}
}

// Resolve walks the process table and returns the first process whose name
// matches executableName, case-insensitively and with an optional ".exe"
// suffix ignored.
func (s *Source) Resolve(ctx context.Context, executableName string) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("enumerate processes: %w", err)
	}

	want := normalizeName(executableName)
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		if normalizeName(name) == want {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".exe")
}

// Collect gathers the requested metadata categories for pid. Individual
// fields are best effort and stay absent on failure; only a process that
// cannot be opened at all is a hard error.
func (s *Source) Collect(ctx context.Context, pid int32, cats snapshot.Categories) (*snapshot.Snapshot, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}

	snap := &snapshot.Snapshot{
		PID:         pid,
		CollectedAt: time.Now(),
	}
	if name, err := p.NameWithContext(ctx); err == nil {
		snap.Name = name
	}

	if cats.Basic {
		s.collectBasic(ctx, p, snap)
	}
	if cats.Memory {
		if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
			snap.Memory = &snapshot.MemoryStats{
				RSS:  mem.RSS,
				VMS:  mem.VMS,
				Swap: mem.Swap,
			}
		}
	}
	if cats.CPU {
		if times, err := p.TimesWithContext(ctx); err == nil && times != nil {
			snap.CPU = &snapshot.CPUStats{
				UserSeconds:   times.User,
				SystemSeconds: times.System,
			}
		}
	}
	if cats.Threads {
		if n, err := p.NumThreadsWithContext(ctx); err == nil {
			snap.ThreadCount = n
		}
		if threads, err := p.ThreadsWithContext(ctx); err == nil {
			snap.Threads = make([]snapshot.Thread, 0, len(threads))
			for tid, times := range threads {
				t := snapshot.Thread{ID: tid}
				if times != nil {
					t.UserSeconds = times.User
					t.SystemSeconds = times.System
				}
				snap.Threads = append(snap.Threads, t)
			}
		}
	}
	if cats.Handles {
		if n, err := p.NumFDsWithContext(ctx); err == nil {
			snap.HandleCount = n
		}
	}
	if cats.Modules {
		snap.Modules = collectModules(ctx, p)
	}
	if cats.Environment {
		if env, err := p.EnvironWithContext(ctx); err == nil {
			snap.Environment = parseEnviron(env)
		}
	}

	return snap, nil
}

func (s *Source) collectBasic(ctx context.Context, p *process.Process, snap *snapshot.Snapshot) {
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		snap.ParentPID = ppid
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		snap.ExecutablePath = exe
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		snap.CommandLine = cmdline
	}
	if cwd, err := p.CwdWithContext(ctx); err == nil {
		snap.WorkingDirectory = cwd
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
		snap.CreateTime = time.UnixMilli(created)
	}
}

// collectModules reports the file-backed mappings of the process, one entry
// per distinct path.
func collectModules(ctx context.Context, p *process.Process) []snapshot.Module {
	maps, err := p.MemoryMapsWithContext(ctx, false)
	if err != nil || maps == nil {
		return nil
	}

	seen := make(map[string]int)
	var modules []snapshot.Module
	for _, m := range *maps {
		if !strings.HasPrefix(m.Path, "/") {
			continue
		}
		if idx, ok := seen[m.Path]; ok {
			modules[idx].Size += m.Size
			continue
		}
		seen[m.Path] = len(modules)
		modules = append(modules, snapshot.Module{Path: m.Path, Size: m.Size})
	}
	return modules
}

func parseEnviron(env []string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for _, entry := range env {
		if entry == "" {
			continue
		}
		key, value, _ := strings.Cut(entry, "=")
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
