package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RestartConfig contains configuration for exponential backoff worker restarts
type RestartConfig struct {
	MaxRetries    int           // Maximum consecutive restarts without progress (default: 5)
	RetryDelay    time.Duration // Initial restart delay (default: 1 second)
	MaxRetryDelay time.Duration // Maximum restart delay cap (default: 30 seconds)
}

// DefaultRestartConfig returns default restart configuration
func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		MaxRetries:    5,
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Restartable is the owner side of a fail-stop worker.
type Restartable interface {
	// WorkerDone is closed when the current worker exits.
	WorkerDone() <-chan struct{}
	// WorkerErr returns why the current worker exited.
	WorkerErr() error
	// Restart replaces an exited worker with a fresh one.
	Restart(ctx context.Context) error
}

// Supervise restarts target's worker with exponential backoff every time it
// fail-stops.
//
// The worker itself never retries (an oracle failure is fatal for that
// instance); this loop is the owner deciding to try again with a new one.
//
// Backoff schedule (default config):
//   - Restart 1: 1 second
//   - Restart 2: 2 seconds
//   - Restart 3: 4 seconds
//   - Restart 4: 8 seconds
//   - Restart 5: 16 seconds
//   - After 5 consecutive failures: give up
//
// A worker that completed at least one computation before failing resets the
// consecutive-failure counter.
//
// Returns nil when the worker was stopped by its owner (Stop), ctx.Err() when
// ctx is cancelled, or an error once max retries are exceeded.
func Supervise(ctx context.Context, target Restartable, cfg RestartConfig) error {
	log := logger().With("component", "supervisor")
	retries := 0

	for {
		select {
		case <-ctx.Done():
			log.Info("supervisor: context cancelled, stopping")
			return ctx.Err()
		case <-target.WorkerDone():
		}

		err := target.WorkerErr()

		if ClassifyExit(err) == ExitCanceled {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Info("supervisor: worker stopped by owner")
			return nil
		}

		var werr *WorkerError
		if errors.As(err, &werr) && werr.Computations > 0 {
			retries = 0
		}

		retries++
		if retries > cfg.MaxRetries {
			return fmt.Errorf("supervisor: max retries exceeded (%d attempts): %w", cfg.MaxRetries, err)
		}

		delay := calculateBackoff(retries, cfg)

		log.Warn("supervisor: restarting worker",
			"attempt", retries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			log.Info("supervisor: context cancelled during backoff")
			return ctx.Err()
		}

		if err := target.Restart(ctx); err != nil {
			if errors.Is(err, ErrSequenceStopped) {
				return nil
			}
			return fmt.Errorf("supervisor: restart failed: %w", err)
		}
	}
}

// calculateBackoff calculates the exponential backoff delay for a given attempt
//
// Formula: delay = retryDelay * 2^(attempt-1)
// Cap: min(delay, maxRetryDelay)
func calculateBackoff(attempt int, cfg RestartConfig) time.Duration {
	delay := cfg.RetryDelay

	// Double per attempt, stopping at the cap so large attempts cannot overflow
	for i := 1; i < attempt; i++ {
		if cfg.MaxRetryDelay > 0 && delay >= cfg.MaxRetryDelay {
			break
		}
		delay *= 2
	}

	// Cap delay at maxRetryDelay
	if cfg.MaxRetryDelay > 0 && delay > cfg.MaxRetryDelay {
		delay = cfg.MaxRetryDelay
	}

	return delay
}
