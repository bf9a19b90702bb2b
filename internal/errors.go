package internal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Internal errors - re-exported as the stable contract in the antiprimes package.
var (
	ErrEmptySequence      = errors.New("antiprimes: sequence is empty")
	ErrCanceled           = errors.New("antiprimes: wait canceled")
	ErrMailboxClosed      = errors.New("antiprimes: mailbox is closed")
	ErrWorkerStopped      = errors.New("antiprimes: worker stopped")
	ErrOracleFailed       = errors.New("antiprimes: oracle failed")
	ErrAlreadyStarted     = errors.New("antiprimes: already started")
	ErrSequenceStopped    = errors.New("antiprimes: sequence stopped")
	ErrNilObserver        = errors.New("antiprimes: nil observer")
	ErrNotifierClosed     = errors.New("antiprimes: notifier is closed")
	ErrSubscriberExists   = errors.New("antiprimes: subscriber already exists")
	ErrSubscriberNotFound = errors.New("antiprimes: subscriber not found")
	ErrNilChannel         = errors.New("antiprimes: nil channel provided")
)

// canceled wraps a context error so callers can match both ErrCanceled and
// the context cause (context.Canceled or context.DeadlineExceeded).
func canceled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, cause)
}

// WorkerError records why a worker left its loop.
//
// A worker never retries internally: any exit is final for that instance and
// the owner decides whether to restart (see Supervise).
type WorkerError struct {
	Phase        string    // "take", "compute" or "publish"
	Cause        error     // Underlying error
	StartedAt    time.Time // When the worker loop started
	At           time.Time // When the worker stopped
	Computations uint64    // Successful computations before the exit
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker stopped during %s after %d computations: %v", e.Phase, e.Computations, e.Cause)
}

func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// Reason classifies the exit.
func (e *WorkerError) Reason() ExitReason {
	return ClassifyExit(e)
}

// ExitReason is the classification of a worker exit for logs and telemetry.
type ExitReason int

const (
	// ExitCanceled means the owner cancelled the worker (Stop or context).
	ExitCanceled ExitReason = iota
	// ExitOracle means the oracle returned an error (fail-stop).
	ExitOracle
	// ExitClosed means the mailbox was closed underneath the worker.
	ExitClosed
	// ExitUnknown is anything else.
	ExitUnknown
)

func (r ExitReason) String() string {
	switch r {
	case ExitCanceled:
		return "canceled"
	case ExitOracle:
		return "oracle"
	case ExitClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClassifyExit maps a worker exit error to an ExitReason.
//
// Priority: oracle failure first (it may itself wrap a context error from a
// misbehaving oracle), then cancellation, then a closed mailbox.
func ClassifyExit(err error) ExitReason {
	switch {
	case err == nil:
		return ExitUnknown
	case errors.Is(err, ErrOracleFailed):
		return ExitOracle
	case errors.Is(err, ErrCanceled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ExitCanceled
	case errors.Is(err, ErrMailboxClosed):
		return ExitClosed
	default:
		return ExitUnknown
	}
}
