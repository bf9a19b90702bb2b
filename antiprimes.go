package antiprimes

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/antiprimes/internal"
)

// AntiPrime is re-exported from internal package to avoid import cycles.
// See internal/value.go for full documentation.
type AntiPrime = internal.AntiPrime

// Initial is the single element of a new or reset sequence: (1, 1).
var Initial = internal.Initial

// Request is a mailbox work item ("compute the successor of Base").
type Request = internal.Request

// SubmitResult tells a caller whether its request was accepted or coalesced.
// Errors always come with SubmitRejected, the zero value.
type SubmitResult = internal.SubmitResult

const (
	SubmitRejected  = internal.SubmitRejected
	SubmitAccepted  = internal.SubmitAccepted
	SubmitCoalesced = internal.SubmitCoalesced
)

// Oracle computes the successor of an antiprime.
type Oracle = internal.Oracle

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc = internal.OracleFunc

// Observer is notified once after every successful append.
type Observer = internal.Observer

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc = internal.ObserverFunc

// Event describes one append, delivered to channel subscribers.
type Event = internal.Event

// WorkerState is the worker state machine position.
type WorkerState = internal.WorkerState

const (
	WorkerNotStarted = internal.WorkerNotStarted
	WorkerIdle       = internal.WorkerIdle
	WorkerComputing  = internal.WorkerComputing
	WorkerPublishing = internal.WorkerPublishing
	WorkerStopped    = internal.WorkerStopped
)

// WorkerError records why a worker left its loop.
type WorkerError = internal.WorkerError

// ExitReason classifies a worker exit.
type ExitReason = internal.ExitReason

const (
	ExitCanceled = internal.ExitCanceled
	ExitOracle   = internal.ExitOracle
	ExitClosed   = internal.ExitClosed
	ExitUnknown  = internal.ExitUnknown
)

// Stats types are re-exported from internal package.
type (
	Stats           = internal.Stats
	WorkerStats     = internal.WorkerStats
	MailboxStats    = internal.MailboxStats
	NotifierStats   = internal.NotifierStats
	SubscriberStats = internal.SubscriberStats
	LatencyStats    = internal.LatencyStats
)

// RestartConfig configures Supervise backoff.
type RestartConfig = internal.RestartConfig

// Public API errors - Re-export internal errors as stable contract
var (
	ErrEmptySequence      = internal.ErrEmptySequence
	ErrCanceled           = internal.ErrCanceled
	ErrWorkerStopped      = internal.ErrWorkerStopped
	ErrOracleFailed       = internal.ErrOracleFailed
	ErrAlreadyStarted     = internal.ErrAlreadyStarted
	ErrSequenceStopped    = internal.ErrSequenceStopped
	ErrNilObserver        = internal.ErrNilObserver
	ErrNotifierClosed     = internal.ErrNotifierClosed
	ErrSubscriberExists   = internal.ErrSubscriberExists
	ErrSubscriberNotFound = internal.ErrSubscriberNotFound
	ErrNilChannel         = internal.ErrNilChannel
)

// Sequence is the public interface for the antiprime sequence.
//
// Design:
//   - Interface (not concrete type) so callers can substitute fakes
//   - Lifecycle: New() → Start() → ComputeNext()/Last()/LastK() → Stop()
//   - Thread-safe: all methods safe for concurrent use
//
// Implementation is in internal/sequence.go (hidden from clients).
type Sequence interface {
	// Start spawns the background worker and returns immediately.
	// The worker runs until ctx is cancelled, Stop is called or the oracle fails.
	//
	// Returns ErrAlreadyStarted on a second call.
	Start(ctx context.Context) error

	// Stop terminates the worker and blocks until it exits.
	//
	// After Stop():
	//   - ComputeNext() returns ErrSequenceStopped
	//   - Last()/LastK() keep returning the final contents
	//
	// Idempotent: safe to call multiple times.
	Stop() error

	// Reset clears the sequence to Initial. Observers are not notified.
	// A computation in flight is discarded when it completes.
	Reset()

	// ComputeNext submits the current last element to the worker and returns
	// without waiting for the result.
	//
	// Semantics:
	//   - Identical request pending or computing: coalesced, returns immediately
	//   - Slot free: accepted, returns immediately
	//   - Different request pending: blocks until the worker takes it
	//
	// The wait ends with an ErrCanceled error when ctx ends (or the
	// configured submit timeout elapses), and with an ErrWorkerStopped error
	// when the worker has fail-stopped.
	ComputeNext(ctx context.Context) (Request, SubmitResult, error)

	// Last returns the most recently appended element.
	Last() (AntiPrime, error)

	// LastK returns the last min(k, Len()) elements, oldest first, as a copy.
	LastK(k int) ([]AntiPrime, error)

	// Len returns the number of elements.
	Len() int

	// Epoch returns the reset generation.
	Epoch() uint64

	// AddObserver registers o; Update is called synchronously on the worker
	// goroutine once per append, in registration order. Observers must not
	// call Stop.
	AddObserver(o Observer) error

	// Subscribe registers ch to receive an Event per append (non-blocking
	// send, dropped when ch is full).
	Subscribe(id string, ch chan<- Event) error

	// Unsubscribe removes a channel subscriber.
	Unsubscribe(id string) error

	// Restart replaces a fail-stopped worker with a fresh one bound to ctx.
	// No-op while the worker is running.
	Restart(ctx context.Context) error

	// WorkerDone is closed when the current worker exits.
	WorkerDone() <-chan struct{}

	// WorkerErr returns why the current worker exited, or nil.
	WorkerErr() error

	// WorkerRunning reports whether the worker is started and alive.
	WorkerRunning() bool

	// Stats returns operational statistics (non-blocking snapshot).
	Stats() Stats
}

// Options configures a Sequence.
type Options struct {
	// Oracle computes successors. Nil selects DefaultOracle().
	Oracle Oracle

	// SubmitTimeout bounds ComputeNext waits. Zero waits until ctx ends.
	SubmitTimeout time.Duration

	// IdleThreshold flags the worker idle in Stats. Zero selects 30s.
	IdleThreshold time.Duration
}

// New creates a Sequence holding only Initial.
//
// Lifecycle:
//  1. seq := antiprimes.New(antiprimes.Options{})
//  2. seq.Start(ctx)  // Spawn worker
//  3. seq.ComputeNext(ctx); seq.LastK(10)
//  4. seq.Stop()  // Graceful shutdown
func New(opts Options) Sequence {
	return internal.NewSequence(internal.Options{
		Oracle:        opts.Oracle,
		SubmitTimeout: opts.SubmitTimeout,
		IdleThreshold: opts.IdleThreshold,
	})
}

// DefaultOracle returns the trial-division successor search.
func DefaultOracle() Oracle {
	return internal.DefaultOracle()
}

// DefaultRestartConfig returns 5 retries from 1s doubling up to 30s.
func DefaultRestartConfig() RestartConfig {
	return internal.DefaultRestartConfig()
}

// Supervise restarts seq's worker with exponential backoff each time it
// fail-stops. It returns nil once seq is stopped, ctx.Err() on cancellation,
// or an error when retries are exhausted.
func Supervise(ctx context.Context, seq Sequence, cfg RestartConfig) error {
	return internal.Supervise(ctx, seq, cfg)
}

// ClassifyExit maps a worker exit error to an ExitReason.
func ClassifyExit(err error) ExitReason {
	return internal.ClassifyExit(err)
}

// SetLogger overrides the logger used by the sequence, worker and mailbox.
func SetLogger(l *slog.Logger) {
	internal.SetLogger(l)
}
