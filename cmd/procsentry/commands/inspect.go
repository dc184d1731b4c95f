package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/media"
	"github.com/procsentry/procsentry/internal/monitor"
	"github.com/procsentry/procsentry/internal/process"
	"github.com/procsentry/procsentry/internal/snapshot"
	"github.com/procsentry/procsentry/internal/window"
	"github.com/spf13/cobra"
)

var (
	inspectOutput string
	inspectAll    bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <executable|pid>",
	Short: "Take a one-shot snapshot of a process and print it as JSON",
	Long: `Inspect resolves the argument (an executable name, or a numeric pid) and
collects a single full snapshot: basic info, memory, windows, media sessions
and, with --all, the expensive categories too (cpu, threads, modules, handles,
environment).`,
	Example: `  # Snapshot by name
  procsentry inspect firefox

  # Snapshot by pid, everything, into a file
  procsentry inspect 23664 --all --output firefox.json`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "write the snapshot to a file instead of stdout")
	inspectCmd.Flags().BoolVar(&inspectAll, "all", false, "collect every category, including the expensive ones")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("inspect")

	ctx, cancel := context.WithTimeout(context.Background(), monitor.DefaultCheckTimeout)
	defer cancel()

	procSource := process.NewSource()

	pid, err := resolveArg(ctx, procSource, args[0])
	if err != nil {
		return err
	}

	cats := snapshot.DefaultCategories()
	if inspectAll {
		cats = snapshot.AllCategories()
	}

	snap, err := procSource.Collect(ctx, pid, cats)
	if err != nil {
		return fmt.Errorf("failed to collect metadata: %w", err)
	}

	if cats.Windows {
		if x11, err := window.NewSource(); err == nil {
			defer x11.Close()
			if windows, err := x11.WindowsFor(pid); err == nil {
				snap.Windows = windows
			}
			if active, err := x11.ActiveWindow(pid); err == nil && active != nil {
				snap.WindowTitle = active.Title
			}
		} else {
			log.Debug().Err(err).Msg("window source unavailable")
		}
	}

	if cats.Media {
		sessions, err := media.NewSource("").SessionsFor(ctx, pid)
		if err != nil {
			log.Debug().Err(err).Msg("media source unavailable")
		} else {
			snap.MediaSessions = sessions
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if inspectOutput != "" {
		if err := os.WriteFile(inspectOutput, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", inspectOutput, err)
		}
		log.Info().Str("path", inspectOutput).Msg("snapshot written")
		return nil
	}

	fmt.Println(string(data))
	return nil
}

// resolveArg accepts a pid or an executable name.
func resolveArg(ctx context.Context, resolver monitor.Resolver, arg string) (int32, error) {
	if pid, err := strconv.ParseInt(arg, 10, 32); err == nil {
		return int32(pid), nil
	}

	pid, found, err := resolver.Resolve(ctx, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve %q: %w", arg, err)
	}
	if !found {
		return 0, fmt.Errorf("no running process matches %q", arg)
	}
	return pid, nil
}
