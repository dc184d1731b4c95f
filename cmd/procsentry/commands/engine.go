package commands

import (
	"fmt"

	"github.com/procsentry/procsentry/internal/config"
	"github.com/procsentry/procsentry/internal/logger"
	"github.com/procsentry/procsentry/internal/media"
	"github.com/procsentry/procsentry/internal/monitor"
	"github.com/procsentry/procsentry/internal/process"
	"github.com/procsentry/procsentry/internal/snapshot"
	"github.com/procsentry/procsentry/internal/window"
	"github.com/spf13/viper"
)

// loadConfig builds the effective configuration: file values overridden by
// command-line flags.
func loadConfig(target string) (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	if target != "" {
		configMgr.SetTarget(target)
	}
	if viper.IsSet("interval_seconds") {
		if seconds := viper.GetInt("interval_seconds"); seconds > 0 {
			configMgr.SetInterval(seconds)
		}
	}
	if viper.IsSet("media_player") {
		if name := viper.GetString("media_player"); name != "" {
			configMgr.SetMediaPlayer(name)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}

	cfg := configMgr.Get()
	if cfg.Target == "" {
		return nil, fmt.Errorf("no target process: pass an executable name or set target in %s", configMgr.GetConfigPath())
	}

	logger.Init(cfg.LogLevel, viper.GetBool("pretty"))
	return configMgr, nil
}

// buildEngine wires the engine to the real collaborators. Window and media
// sources are optional: without an X display or session bus the engine runs
// with those categories absent.
func buildEngine(cfg config.Config, onChange func(*snapshot.Snapshot)) (*monitor.Engine, func(), error) {
	log := logger.WithComponent("setup")

	procSource := process.NewSource()

	var windowSource monitor.WindowSource
	cleanup := func() {}
	if cfg.Categories.Windows {
		x11, err := window.NewSource()
		if err != nil {
			log.Warn().Err(err).Msg("window source unavailable, continuing without window data")
		} else {
			windowSource = x11
			cleanup = x11.Close
		}
	}

	var mediaSource monitor.MediaSource
	if cfg.Categories.Media {
		mediaSource = media.NewSource(cfg.MediaPlayer)
	}

	engine, err := monitor.New(monitor.Config{
		ExecutableName: cfg.Target,
		Interval:       cfg.Interval(),
		Categories:     cfg.Categories,
		OnChange:       onChange,
	}, procSource, procSource, windowSource, mediaSource)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}
