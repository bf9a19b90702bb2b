package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/config"
	"github.com/e7canasta/antiprimes/telemetry"
)

// version is overridden at build time (-ldflags "-X main.version=...").
var version = "v0.1.0"

// --- Global Command Variables ---
var (
	cfgPath string
	debug   bool

	// cfg is loaded by PersistentPreRunE before any subcommand runs
	cfg *config.Config

	// logLevel backs the process logger so serve can change it on reload
	logLevel slog.LevelVar

	rootCmd = &cobra.Command{
		Use:   "antiprimes",
		Short: "Compute the antiprime (highly composite number) sequence",
		Long: `antiprimes grows the sequence of antiprimes (numbers with more divisors
than any smaller positive integer) on a single background worker.

Run it once from the command line, serve it over HTTP/websocket and MQTT,
or step through it interactively.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("antiprimes %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(runCmd, serveCmd, tuiCmd, versionCmd)
}

// setup loads configuration and installs the process logger.
func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if debug {
		loaded.Log.Level = "debug"
	}
	cfg = loaded

	logLevel.Set(telemetry.ParseLevel(cfg.Log.Level))
	logger := telemetry.NewLogger(os.Stderr, &logLevel, cfg.Log.Format)
	slog.SetDefault(logger)
	antiprimes.SetLogger(logger)

	return nil
}

// newSequence builds a sequence from the loaded configuration.
func newSequence(c *config.Config) antiprimes.Sequence {
	return antiprimes.New(antiprimes.Options{
		SubmitTimeout: c.Sequence.SubmitTimeout,
		IdleThreshold: c.Worker.IdleThreshold,
	})
}

func restartConfig(c config.RestartConfig) antiprimes.RestartConfig {
	return antiprimes.RestartConfig{
		MaxRetries:    c.MaxRetries,
		RetryDelay:    c.RetryDelay,
		MaxRetryDelay: c.MaxRetryDelay,
	}
}
