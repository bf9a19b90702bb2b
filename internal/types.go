package internal

import (
	"context"
	"time"

	"github.com/e7canasta/antiprimes/oracle"
)

// Request is a "compute the successor of Base" work item held by the mailbox.
type Request struct {
	// ID identifies the accepted submission (uuid). Coalesced submissions
	// receive the ID of the request they were merged into.
	ID string `json:"id"`

	// Base is the antiprime whose successor must be computed.
	Base AntiPrime `json:"base"`

	// Epoch is the sequence reset generation Base was read from.
	Epoch uint64 `json:"epoch"`

	// SubmittedAt is when the request entered the mailbox.
	SubmittedAt time.Time `json:"submitted_at"`
}

// matches reports whether a submission of (base, epoch) is identical to r.
func (r *Request) matches(base AntiPrime, epoch uint64) bool {
	return r != nil && r.Base == base && r.Epoch == epoch
}

// SubmitResult tells a caller what happened to its submission.
type SubmitResult int

const (
	// SubmitRejected is returned alongside every error: nothing was queued.
	SubmitRejected SubmitResult = iota
	// SubmitAccepted means the request now occupies the mailbox slot.
	SubmitAccepted
	// SubmitCoalesced means an identical request was already pending or in flight.
	SubmitCoalesced
)

func (r SubmitResult) String() string {
	switch r {
	case SubmitRejected:
		return "rejected"
	case SubmitAccepted:
		return "accepted"
	case SubmitCoalesced:
		return "coalesced"
	default:
		return "unknown"
	}
}

// WorkerState is the worker state machine position.
//
//	NotStarted → Idle → Computing → Publishing → Idle ... → Stopped
type WorkerState int32

const (
	WorkerNotStarted WorkerState = iota
	WorkerIdle
	WorkerComputing
	WorkerPublishing
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerNotStarted:
		return "not_started"
	case WorkerIdle:
		return "idle"
	case WorkerComputing:
		return "computing"
	case WorkerPublishing:
		return "publishing"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Oracle computes the successor of an antiprime.
//
// Contract: the result strictly extends current and no integer between them
// has more divisors than current. The worker trusts this and never validates it.
type Oracle interface {
	Next(ctx context.Context, current AntiPrime) (AntiPrime, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, current AntiPrime) (AntiPrime, error)

// Next implements Oracle.
func (f OracleFunc) Next(ctx context.Context, current AntiPrime) (AntiPrime, error) {
	return f(ctx, current)
}

// DefaultOracle wraps the trial-division search from the oracle package.
func DefaultOracle() Oracle {
	search := oracle.Default()
	return OracleFunc(func(ctx context.Context, current AntiPrime) (AntiPrime, error) {
		value, divisors, err := search(ctx, current.Value, current.Divisors)
		if err != nil {
			return AntiPrime{}, err
		}
		return AntiPrime{Value: value, Divisors: divisors}, nil
	})
}

// Observer is notified after every successful append.
type Observer interface {
	Update()
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func()

// Update implements Observer.
func (f ObserverFunc) Update() {
	f()
}

// Event describes one successful append, delivered to channel subscribers.
type Event struct {
	// Index is the position of Value in the sequence (0 is the initial element).
	Index int `json:"index" msgpack:"index"`

	// Value is the appended antiprime.
	Value AntiPrime `json:"value" msgpack:"value"`

	// Epoch is the reset generation the append belongs to.
	Epoch uint64 `json:"epoch" msgpack:"epoch"`

	// RequestID is the mailbox request that produced Value.
	RequestID string `json:"request_id" msgpack:"request_id"`

	// At is when the append happened.
	At time.Time `json:"at" msgpack:"at"`
}
