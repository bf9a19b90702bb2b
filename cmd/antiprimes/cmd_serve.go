package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/api"
	"github.com/e7canasta/antiprimes/config"
	"github.com/e7canasta/antiprimes/control"
	"github.com/e7canasta/antiprimes/emitter"
	"github.com/e7canasta/antiprimes/telemetry"
)

var (
	statsInterval time.Duration

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the sequence over HTTP/websocket and, when enabled, MQTT",
		Long: `serve runs the sequence as a long-lived service:

  - HTTP API and websocket event stream (server.addr)
  - Prometheus metrics on /metrics
  - MQTT event emitter and control plane (mqtt.enabled)
  - Worker supervision with exponential backoff (worker.restart.enabled)
  - Live reload of log.level and server.compute_rate/burst when --config is set`,
		RunE: serve,
	}
)

func init() {
	serveCmd.Flags().DurationVar(&statsInterval, "stats-interval", 0, "print statistics periodically (0 disables)")
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	seq := newSequence(cfg)
	if err := seq.Start(ctx); err != nil {
		return fmt.Errorf("start sequence: %w", err)
	}
	defer seq.Stop()

	// MQTT is connected before anything runs so a bad broker fails fast
	var (
		em      *emitter.MQTTEmitter
		handler *control.Handler
	)
	if cfg.MQTT.Enabled {
		em = emitter.NewMQTTEmitter(cfg.MQTT)
		if err := em.Connect(ctx); err != nil {
			return err
		}
		defer em.Disconnect()

		handler = control.NewHandler(cfg.MQTT, em.Client(), seq, cfg.Sequence.HistoryWindow)
		if err := handler.Start(ctx); err != nil {
			return err
		}
		defer handler.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	server := api.NewServer(seq, api.Options{
		Server:           cfg.Server,
		HistoryWindow:    cfg.Sequence.HistoryWindow,
		SubscriberBuffer: cfg.Notify.SubscriberBuffer,
		ServiceName:      cfg.Telemetry.ServiceName,
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	if em != nil {
		g.Go(func() error {
			return em.Run(gctx, seq, cfg.Notify.SubscriberBuffer)
		})
	}

	if cfg.Worker.Restart.Enabled {
		g.Go(func() error {
			err := antiprimes.Supervise(gctx, seq, restartConfig(cfg.Worker.Restart))
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if cfgPath != "" {
		g.Go(func() error {
			current := cfg
			return config.Watch(gctx, cfgPath, config.DefaultDebounce, func(next *config.Config) {
				applyReload(current, next, server)
				current = next
			})
		})
	}

	if statsInterval > 0 {
		g.Go(func() error {
			reportStats(gctx, statsInterval, cmd.OutOrStdout(), seq, em, handler)
			return nil
		})
	}

	slog.Info("antiprimes service started",
		"version", version,
		"addr", cfg.Server.Addr,
		"mqtt", cfg.MQTT.Enabled,
		"supervised", cfg.Worker.Restart.Enabled,
	)

	err = g.Wait()
	printFinalStats(cmd.OutOrStdout(), seq.Stats())

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("service failed", "error", err)
		return err
	}

	slog.Info("antiprimes service stopped gracefully")
	return nil
}

// applyReload applies the settings that can change without a restart and
// reports the rest.
func applyReload(current, next *config.Config, server *api.Server) {
	live, restart := current.Changes(next)

	if next.Log.Level != current.Log.Level && !debug {
		logLevel.Set(telemetry.ParseLevel(next.Log.Level))
	}
	if next.Server.ComputeRate != current.Server.ComputeRate || next.Server.ComputeBurst != current.Server.ComputeBurst {
		server.SetComputeRate(next.Server.ComputeRate, next.Server.ComputeBurst)
	}

	if len(live) > 0 {
		slog.Info("config changes applied", "changes", live)
	}
	if len(restart) > 0 {
		slog.Warn("config changes require restart", "changes", restart)
	}
}
