package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "procsentry",
		Short: "procsentry - presence monitor for a single named process",
		Long: `procsentry continuously observes one named process and reports when its
externally visible state changes: window title, memory footprint, handle
count, window set, or active media-playback metadata.

Features:
  • Resolve a process by executable name on every tick
  • Detect restarts, disappearance and reappearance
  • Track the foreground window independently of metadata changes
  • Attribute MPRIS media sessions to the monitored process
  • REST API and websocket stream for downstream consumers
  • Live terminal view`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/procsentry/config.yaml)")
	rootCmd.PersistentFlags().Int("interval", 0, "tick interval in seconds (default is 3)")
	rootCmd.PersistentFlags().String("media-player", "", "match media sessions by player name instead of pid")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-readable log output")

	// Bind flags to viper
	viper.BindPFlag("interval_seconds", rootCmd.PersistentFlags().Lookup("interval"))
	viper.BindPFlag("media_player", rootCmd.PersistentFlags().Lookup("media-player"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
