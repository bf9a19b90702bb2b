package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/control"
	"github.com/e7canasta/antiprimes/emitter"
)

// reportStats periodically prints statistics from all service components.
//
// When em is non-nil the sequence stats are also published to the status topic.
func reportStats(
	ctx context.Context,
	interval time.Duration,
	w io.Writer,
	seq antiprimes.Sequence,
	em *emitter.MQTTEmitter,
	handler *control.Handler,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := seq.Stats()
			printLiveStats(w, time.Since(startTime), stats, em, handler)

			if em != nil {
				publishStatus(em, stats)
			}
		}
	}
}

func publishStatus(em *emitter.MQTTEmitter, stats antiprimes.Stats) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "stats",
		"stats":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Warn("failed to encode status", "component", "stats", "error", err)
		return
	}
	if err := em.PublishStatus(payload); err != nil {
		slog.Debug("status publish failed", "component", "stats", "error", err)
	}
}

// printLiveStats prints current statistics from all components
func printLiveStats(
	w io.Writer,
	uptime time.Duration,
	stats antiprimes.Stats,
	em *emitter.MQTTEmitter,
	handler *control.Handler,
) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╭─────────────────────────────────────────────────────────────────╮")
	fmt.Fprintf(w, "│ Antiprimes Statistics (Uptime: %v)\n", uptime.Round(time.Second))
	fmt.Fprintln(w, "├─────────────────────────────────────────────────────────────────┤")

	fmt.Fprintln(w, "│ Sequence:")
	fmt.Fprintf(w, "│   Length:             %6d\n", stats.Length)
	fmt.Fprintf(w, "│   Last:               %s\n", stats.Last)
	fmt.Fprintf(w, "│   Epoch:              %6d\n", stats.Epoch)
	fmt.Fprintf(w, "│   Appends:            %6d\n", stats.Appends)
	fmt.Fprintf(w, "│   Discards:           %6d stale, %d duplicate, %d invalid\n", stats.StaleDiscards, stats.DuplicateDiscards, stats.InvalidResults)

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Mailbox:")
	fmt.Fprintf(w, "│   Accepted:           %6d\n", stats.Mailbox.Accepted)
	fmt.Fprintf(w, "│   Coalesced:          %6d (%.1f%%)\n",
		stats.Mailbox.Coalesced,
		ratio(stats.Mailbox.Coalesced, stats.Mailbox.Accepted+stats.Mailbox.Coalesced))
	fmt.Fprintf(w, "│   Waits:              %6d (%d canceled)\n", stats.Mailbox.Waits, stats.Mailbox.Canceled)

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Worker:")
	fmt.Fprintf(w, "│   State:              %s\n", stats.Worker.State)
	fmt.Fprintf(w, "│   Computations:       %6d\n", stats.Worker.Computations)
	fmt.Fprintf(w, "│   Latency:            mean=%v max=%v (n=%d)\n",
		stats.Worker.Latency.Mean.Round(time.Microsecond),
		stats.Worker.Latency.Max.Round(time.Microsecond),
		stats.Worker.Latency.Samples)
	fmt.Fprintf(w, "│   Restarts:           %6d\n", stats.Restarts)
	if stats.Worker.IsIdle {
		idle := time.Since(stats.Worker.LastComputedAt)
		if stats.Worker.LastComputedAt.IsZero() {
			idle = time.Since(stats.Worker.StartedAt)
		}
		fmt.Fprintf(w, "│   Idle:               %.1fs\n", idle.Seconds())
	}
	if stats.Worker.ExitReason != "" {
		fmt.Fprintf(w, "│   Exit:               %s (%s)\n", stats.Worker.ExitReason, stats.Worker.Error)
	}

	fmt.Fprintln(w, "│")
	fmt.Fprintln(w, "│ Subscribers:")
	fmt.Fprintf(w, "│   Observers:          %6d\n", stats.Notifier.Observers)
	for id, sub := range stats.Notifier.Subscribers {
		fmt.Fprintf(w, "│   %-18s: %4d sent, %3d drops (%.1f%%)\n",
			id, sub.Sent, sub.Dropped, ratio(sub.Dropped, sub.Sent+sub.Dropped))
	}

	if em != nil {
		es := em.Stats()
		fmt.Fprintln(w, "│")
		fmt.Fprintln(w, "│ MQTT:")
		fmt.Fprintf(w, "│   Connected:          %6v\n", es.Connected)
		fmt.Fprintf(w, "│   Published:          %6d (%d errors)\n", es.Published, es.Errors)
	}
	if handler != nil {
		hs := handler.Stats()
		fmt.Fprintf(w, "│   Commands:           %6d handled, %d dropped, %d invalid\n", hs.Handled, hs.Dropped, hs.Invalid)
	}

	fmt.Fprintln(w, "╰─────────────────────────────────────────────────────────────────╯")
	fmt.Fprintln(w)
}

// printFinalStats prints final statistics at shutdown
func printFinalStats(w io.Writer, stats antiprimes.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                     Final Statistics                         ")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")

	fmt.Fprintf(w, "  Length:                %d (epoch %d)\n", stats.Length, stats.Epoch)
	fmt.Fprintf(w, "  Last:                  %s\n", stats.Last)
	fmt.Fprintf(w, "  Computations:          %d\n", stats.Worker.Computations)
	fmt.Fprintf(w, "  Mean Latency:          %v\n", stats.Worker.Latency.Mean.Round(time.Microsecond))
	fmt.Fprintf(w, "  Coalesced Requests:    %d (%.1f%%)\n",
		stats.Mailbox.Coalesced,
		ratio(stats.Mailbox.Coalesced, stats.Mailbox.Accepted+stats.Mailbox.Coalesced))
	if stats.StaleDiscards > 0 {
		fmt.Fprintf(w, "  Stale Discards:        %d\n", stats.StaleDiscards)
	}
	if stats.Restarts > 0 {
		fmt.Fprintf(w, "  Worker Restarts:       %d\n", stats.Restarts)
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════")
	fmt.Fprintln(w)
}

// ratio returns part/total as a percentage
func ratio(part, total uint64) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}
