package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/antiprimes/telemetry"
)

// defaultIdleThreshold defines when an idle worker is flagged in stats.
//
// A worker waiting on an empty mailbox is healthy; the flag only tells
// operators nobody has asked for a successor in a while.
const defaultIdleThreshold = 30 * time.Second

// PublishFunc receives every successful computation, on the worker goroutine.
// A non-nil error stops the worker.
type PublishFunc func(req Request, result AntiPrime) error

// Worker is the single background goroutine that runs the oracle.
//
// Goroutine topology:
//   - 1 fixed: loop (spawned by Start, exits on Stop, ctx cancel or oracle failure)
//
// State machine:
//
//	Idle → Take returns v → Computing(v) → oracle returns r → Publishing(r) → Idle
//
// Failure model (fail-stop):
//   - Cancellation while idle: exits cleanly, nothing published
//   - Cancellation while computing: the search aborts, nothing published
//   - Oracle error: exits, mailbox closed, Err() reports ErrOracleFailed
//   - Publish error (result rejected by the owner): exits the same way
//
// The worker never restarts itself; the owner creates a new one (Sequence.Restart).
type Worker struct {
	mailbox       *Mailbox
	oracle        Oracle
	publish       PublishFunc
	idleThreshold time.Duration

	// --- State ---

	state        atomic.Int32 // WorkerState
	computations atomic.Uint64

	statsMu        sync.Mutex
	startedAt      time.Time
	lastComputedAt time.Time
	lastDuration   time.Duration
	exitErr        *WorkerError
	latency        latencyWindow

	// --- Lifecycle ---

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	startedMu sync.Mutex
	started   bool
}

// NewWorker creates a worker bound to mailbox. Call Start to run it.
func NewWorker(mailbox *Mailbox, oracle Oracle, publish PublishFunc, idleThreshold time.Duration) *Worker {
	if idleThreshold <= 0 {
		idleThreshold = defaultIdleThreshold
	}

	return &Worker{
		mailbox:       mailbox,
		oracle:        oracle,
		publish:       publish,
		idleThreshold: idleThreshold,
		done:          make(chan struct{}),
	}
}

// Start spawns the worker loop and returns immediately.
//
// The loop runs until ctx is cancelled, Stop is called or the oracle fails.
// Returns ErrAlreadyStarted on a second call (a stopped worker is not reusable).
func (w *Worker) Start(ctx context.Context) error {
	w.startedMu.Lock()
	defer w.startedMu.Unlock()

	if w.started {
		return ErrAlreadyStarted
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.started = true

	w.statsMu.Lock()
	w.startedAt = time.Now()
	w.statsMu.Unlock()

	w.state.Store(int32(WorkerIdle))

	w.wg.Add(1)
	go w.loop()

	return nil
}

// Stop cancels the loop and blocks until it exits.
//
// Idempotent: safe to call multiple times, and before Start.
func (w *Worker) Stop() error {
	w.startedMu.Lock()
	if !w.started {
		w.startedMu.Unlock()
		return nil
	}
	w.startedMu.Unlock()

	w.cancel()
	w.wg.Wait()

	return nil
}

// Done is closed when the loop has exited (never closed if Start was not called).
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns why the loop exited, or nil while it is running.
func (w *Worker) Err() error {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	if w.exitErr == nil {
		return nil
	}
	return w.exitErr
}

// State returns the current state machine position.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// running reports whether the loop has been started and has not exited.
func (w *Worker) running() bool {
	w.startedMu.Lock()
	started := w.started
	w.startedMu.Unlock()

	if !started {
		return false
	}

	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// loop is the worker goroutine: take, compute, publish, repeat.
func (w *Worker) loop() {
	defer w.wg.Done()
	defer close(w.done)

	// Reject further submissions as soon as the worker is gone
	defer w.mailbox.Close()

	log := logger().With("component", "worker")
	log.Info("worker ready")

	for {
		w.state.Store(int32(WorkerIdle))
		log.Debug("waiting for request")

		req, err := w.mailbox.Take(w.ctx)
		if err != nil {
			w.exit("take", err)
			return
		}

		w.state.Store(int32(WorkerComputing))

		result, err := w.compute(req)
		if err != nil {
			w.mailbox.Done(req)
			w.exit("compute", err)
			return
		}

		// Cancelled mid-flight: the result is dropped, the sequence does not grow
		if err := w.ctx.Err(); err != nil {
			w.mailbox.Done(req)
			w.exit("compute", canceled(err))
			return
		}

		w.state.Store(int32(WorkerPublishing))
		if err := w.publish(req, result); err != nil {
			w.mailbox.Done(req)
			w.exit("publish", err)
			return
		}

		// Keep the request in flight until published so a caller reading the
		// old tail meanwhile is coalesced instead of recomputing it
		w.mailbox.Done(req)
	}
}

// compute runs the oracle for one request with tracing and timing.
//
// Its log lines carry the trace and span ids of the Worker.Compute span.
func (w *Worker) compute(req Request) (AntiPrime, error) {
	ctx, span := startComputeSpan(w.ctx, req)
	log := telemetry.LoggerWithTrace(ctx, logger()).With("component", "worker")

	log.Info("searching successor",
		"request_id", req.ID,
		"base", req.Base.Value,
		"divisors", req.Base.Divisors,
	)

	start := time.Now()
	result, err := w.oracle.Next(ctx, req.Base)
	duration := time.Since(start)

	endComputeSpan(span, result, err)
	recordComputeDuration(ctx, duration, err == nil)

	if err != nil {
		// Cancellation reaches the oracle through ctx; anything else is a failure
		if w.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return AntiPrime{}, canceled(err)
		}
		return AntiPrime{}, fmt.Errorf("%w: %w", ErrOracleFailed, err)
	}

	w.computations.Add(1)
	w.latency.add(duration)

	w.statsMu.Lock()
	w.lastComputedAt = time.Now()
	w.lastDuration = duration
	w.statsMu.Unlock()

	log.Info("successor found",
		"request_id", req.ID,
		"value", result.Value,
		"divisors", result.Divisors,
		"duration", duration,
	)

	return result, nil
}

// exit records the terminal error and logs it according to its classification.
func (w *Worker) exit(phase string, err error) {
	w.state.Store(int32(WorkerStopped))

	w.statsMu.Lock()
	werr := &WorkerError{
		Phase:        phase,
		Cause:        err,
		StartedAt:    w.startedAt,
		At:           time.Now(),
		Computations: w.computations.Load(),
	}
	w.exitErr = werr
	w.statsMu.Unlock()

	log := logger().With("component", "worker")
	switch reason := werr.Reason(); reason {
	case ExitCanceled:
		log.Info("worker stopped", "reason", reason.String(), "phase", phase)
	default:
		log.Error("worker stopped", "reason", reason.String(), "phase", phase, "error", err)
	}
}

// WorkerStats is a snapshot of worker state.
type WorkerStats struct {
	State          string        `json:"state"`
	StartedAt      time.Time     `json:"started_at"`
	Computations   uint64        `json:"computations"`
	LastComputedAt time.Time     `json:"last_computed_at"`
	LastDuration   time.Duration `json:"last_duration"`
	IsIdle         bool          `json:"is_idle"`
	Latency        LatencyStats  `json:"latency"`
	ExitReason     string        `json:"exit_reason,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Stats returns a snapshot of the worker.
func (w *Worker) Stats() WorkerStats {
	state := w.State()

	w.statsMu.Lock()
	stats := WorkerStats{
		State:          state.String(),
		StartedAt:      w.startedAt,
		Computations:   w.computations.Load(),
		LastComputedAt: w.lastComputedAt,
		LastDuration:   w.lastDuration,
	}

	lastActive := w.lastComputedAt
	if lastActive.IsZero() {
		lastActive = w.startedAt
	}
	stats.IsIdle = state == WorkerIdle && !lastActive.IsZero() && time.Since(lastActive) > w.idleThreshold

	if w.exitErr != nil {
		stats.ExitReason = w.exitErr.Reason().String()
		stats.Error = w.exitErr.Error()
	}
	w.statsMu.Unlock()

	stats.Latency = CalculateLatencyStats(w.latency.snapshot())

	return stats
}
