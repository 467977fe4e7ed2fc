// Command msgrelay runs the message relay: POST /message accepts a text
// payload, registered observers see it, and connected WebSocket subscribers
// on /ws receive it.
//
// Usage:
//
//	msgrelay --config relay.yaml
//	msgrelay --listen-address 0.0.0.0:3000 --log-level debug
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/msgrelay/internal/logging"
	"github.com/Tyrowin/msgrelay/internal/metrics"
	"github.com/Tyrowin/msgrelay/internal/server"
)

const shutdownTimeout = 10 * time.Second

var flags struct {
	configFile    string
	listenAddress string
	logLevel      string
}

var rootCmd = &cobra.Command{
	Use:   "msgrelay",
	Short: "Message ingestion relay",
	Long: `msgrelay accepts text messages over HTTP, runs them through the
registered observers and forwards them to WebSocket subscribers.

Configuration comes from an optional YAML file, RELAY_* environment
variables and the flags below, in increasing order of precedence.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&flags.configFile, "config", "c", "", "config file path (YAML)")
	rootCmd.Flags().StringVar(&flags.listenAddress, "listen-address", "", "override listen address")
	rootCmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func loadConfig() (*server.Config, error) {
	var cfg *server.Config
	if flags.configFile != "" {
		loaded, err := server.LoadConfig(flags.configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = server.NewConfigFromEnv()
	}

	if flags.listenAddress != "" {
		cfg.ListenAddress = flags.listenAddress
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(nil)
	}

	relay := server.New(cfg, logger, collector)
	relay.Register("log", server.LoggingObserver(logger))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting msgrelay",
		"listen_address", cfg.ListenAddress,
		"queue_capacity", cfg.QueueCapacity,
		"lock_timeout", cfg.LockTimeout,
		"send_timeout", cfg.SendTimeout,
	)

	return relay.Run(ctx, shutdownTimeout)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
