package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/antiprimes"
)

const runSubscriberID = "cli-run"

var (
	runCount  int
	runLast   int
	runOutput string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Compute the next N antiprimes and print the last K",
		Example: `  antiprimes run --count 20
  antiprimes run --count 30 --last 5 --output out/antiprimes.yaml`,
		RunE: runSequence,
	}
)

func init() {
	runCmd.Flags().IntVarP(&runCount, "count", "n", 10, "number of successors to compute")
	runCmd.Flags().IntVarP(&runLast, "last", "k", 0, "number of elements to print (default: sequence.history_window)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "export the sequence to a .json or .yaml file")
}

func runSequence(cmd *cobra.Command, args []string) error {
	if runCount < 0 {
		return fmt.Errorf("--count must be non-negative, got %d", runCount)
	}
	if runLast < 0 {
		return fmt.Errorf("--last must be non-negative, got %d", runLast)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seq := newSequence(cfg)
	if err := seq.Start(ctx); err != nil {
		return fmt.Errorf("start sequence: %w", err)
	}
	defer seq.Stop()

	if err := computeN(ctx, seq, runCount); err != nil {
		return err
	}

	k := runLast
	if k == 0 {
		k = cfg.Sequence.HistoryWindow
	}
	items, err := seq.LastK(k)
	if err != nil {
		return err
	}
	printItems(cmd.OutOrStdout(), seq.Len(), items)

	if runOutput != "" {
		exporter, err := NewExporter(runOutput)
		if err != nil {
			return err
		}
		if err := exporter.Export(seq); err != nil {
			return err
		}
		cmd.Printf("Exported %d elements to %s\n", seq.Len(), runOutput)
	}

	printFinalStats(cmd.OutOrStdout(), seq.Stats())
	return nil
}

// computeN grows seq by n elements, one request at a time.
func computeN(ctx context.Context, seq antiprimes.Sequence, n int) error {
	events := make(chan antiprimes.Event, 1)
	if err := seq.Subscribe(runSubscriberID, events); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer func() { _ = seq.Unsubscribe(runSubscriberID) }()

	target := seq.Len() + n
	for seq.Len() < target {
		if _, _, err := seq.ComputeNext(ctx); err != nil {
			return fmt.Errorf("compute next: %w", err)
		}

		select {
		case <-events:
		case <-seq.WorkerDone():
			err := seq.WorkerErr()
			if err == nil {
				err = errors.New("worker exited")
			}
			return fmt.Errorf("compute next: %w", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// printItems prints the tail of the sequence, numbered by absolute position.
func printItems(w io.Writer, length int, items []antiprimes.AntiPrime) {
	first := length - len(items)

	fmt.Fprintf(w, "%6s  %20s  %8s\n", "#", "antiprime", "divisors")
	for i, it := range items {
		fmt.Fprintf(w, "%6d  %20d  %8d\n", first+i, it.Value, it.Divisors)
	}
}
