package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/snapshot"
	"github.com/spf13/cobra"
)

var monitorJSON bool

var monitorCmd = &cobra.Command{
	Use:   "monitor [executable]",
	Short: "Monitor a process in the foreground and log every change",
	Long: `Monitor resolves the executable name on every tick and logs a line whenever
the process state materially changes. With --json each change is written to
stdout as one JSON object per line, ready for piping.`,
	Example: `  # Monitor firefox with the default 3s interval
  procsentry monitor firefox

  # Faster cadence, machine-readable change stream
  procsentry monitor spotify --interval 1 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "emit changes as JSON lines on stdout")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var target string
	if len(args) > 0 {
		target = args[0]
	}
	configMgr, err := loadConfig(target)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	log := logger.WithComponent("monitor")
	encoder := json.NewEncoder(os.Stdout)

	onChange := func(snap *snapshot.Snapshot) {
		if snap == nil {
			return
		}
		if monitorJSON {
			if err := encoder.Encode(snap); err != nil {
				log.Error().Err(err).Msg("failed to encode snapshot")
			}
			return
		}
		ev := log.Info().
			Int32("pid", snap.PID).
			Str("name", snap.Name)
		if snap.WindowTitle != "" {
			ev = ev.Str("window", snap.WindowTitle)
		}
		if snap.Memory != nil {
			ev = ev.Uint64("rss", snap.Memory.RSS)
		}
		if len(snap.MediaSessions) > 0 {
			ev = ev.Str("media", snap.MediaSessions[0].Title)
		}
		ev.Msg("change")
	}

	engine, cleanup, err := buildEngine(cfg, onChange)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer cleanup()

	engine.Start()
	defer engine.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	return nil
}
