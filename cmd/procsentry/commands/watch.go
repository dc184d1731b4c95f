package commands

import (
	"fmt"

	"github.com/procsentry/procsentry/internal/tui"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [executable]",
	Short: "Monitor a process with a live terminal view",
	Long: `Watch runs the engine and renders its state in the terminal, refreshing
once a second. The view shows the resolved pid, memory, window and media
state, and how many changes have been observed.`,
	Example: `  procsentry watch firefox
  procsentry watch spotify --interval 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var target string
	if len(args) > 0 {
		target = args[0]
	}
	configMgr, err := loadConfig(target)
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	engine, cleanup, err := buildEngine(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer cleanup()

	engine.Start()
	defer engine.Stop()

	return tui.Run(engine)
}
