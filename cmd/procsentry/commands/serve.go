package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/procsentry/procsentry/internal/api"
	"github.com/procsentry/procsentry/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve [executable]",
	Short: "Run the engine and expose its state over HTTP",
	Long: `Serve starts the monitoring engine and an HTTP server exposing it:

  GET /api/state   point-in-time monitor state
  GET /api/stream  websocket stream of change events
  GET /api/config  effective configuration
  GET /api/health  liveness probe`,
	Example: `  # Serve firefox state on the default port
  procsentry serve firefox

  # Custom port and cadence
  procsentry serve spotify --port 9090 --interval 1`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "server port (default is 8973)")
	viper.BindPFlag("server_port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	var target string
	if len(args) > 0 {
		target = args[0]
	}
	configMgr, err := loadConfig(target)
	if err != nil {
		return err
	}
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	cfg := configMgr.Get()

	log := logger.WithComponent("serve")
	engine, cleanup, err := buildEngine(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to build engine: %w", err)
	}
	defer cleanup()

	engine.Start()
	defer engine.Stop()

	server := api.NewServer(engine, configMgr)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().
		Str("target", cfg.Target).
		Int("port", cfg.ServerPort).
		Msg("procsentry is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully")
	return nil
}
