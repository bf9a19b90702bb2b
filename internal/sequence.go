// Package internal implements the antiprime Sequence with its single-slot
// mailbox and background worker.
//
// This package is INTERNAL - clients MUST use public API in parent package.
package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures a Sequence.
type Options struct {
	// Oracle computes successors. Nil selects DefaultOracle().
	Oracle Oracle

	// SubmitTimeout bounds how long ComputeNext may wait for the mailbox slot.
	// Zero waits until the caller's context ends.
	SubmitTimeout time.Duration

	// IdleThreshold flags the worker as idle in Stats. Zero selects 30s.
	IdleThreshold time.Duration
}

// Sequence is the growing list of antiprimes plus the worker that extends it.
//
// Architecture:
//   - items: append-only slice guarded by mu (a reset swaps in a new slice)
//   - mailbox + worker: 1:1 pair, replaced together by Restart
//   - notifier: observers and channel subscribers, called outside mu
//
// Locking: mu (items, epoch) and the mailbox lock are never held together.
// rtMu only guards which mailbox/worker pair is current.
//
// Reset vs in-flight computation: every request carries the epoch it was read
// from. Reset bumps the epoch, so a result computed for the previous
// sequence is discarded instead of appended onto the new one.
type Sequence struct {
	// --- Sequence State ---

	mu    sync.RWMutex
	items []AntiPrime
	epoch uint64

	// --- Runtime ---

	rtMu    sync.Mutex
	mailbox *Mailbox
	worker  *Worker
	started bool
	stopped bool

	oracle        Oracle
	submitTimeout time.Duration
	idleThreshold time.Duration
	notifier      *Notifier

	// --- Operational Stats ---

	appends           atomic.Uint64
	staleDiscards     atomic.Uint64
	duplicateDiscards atomic.Uint64
	invalidResults    atomic.Uint64
	resets            atomic.Uint64
	restarts          atomic.Uint64
}

// NewSequence creates a sequence holding only Initial, with a worker that is
// not yet running. Requests submitted before Start wait in the mailbox.
func NewSequence(opts Options) *Sequence {
	if opts.Oracle == nil {
		opts.Oracle = DefaultOracle()
	}

	s := &Sequence{
		items:         []AntiPrime{Initial},
		oracle:        opts.Oracle,
		submitTimeout: opts.SubmitTimeout,
		idleThreshold: opts.IdleThreshold,
		notifier:      NewNotifier(),
	}
	s.mailbox = NewMailbox()
	s.worker = NewWorker(s.mailbox, s.oracle, s.publish, s.idleThreshold)

	return s
}

// Start runs the worker until ctx is cancelled or Stop is called.
func (s *Sequence) Start(ctx context.Context) error {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()

	if s.worker == nil {
		return ErrEmptySequence
	}
	if s.stopped {
		return ErrSequenceStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if err := s.worker.Start(ctx); err != nil {
		return err
	}
	s.started = true

	logger().Info("sequence started", "component", "sequence")
	return nil
}

// Stop terminates the worker and the notifier.
//
// Idempotent. Reads (Last, LastK) keep working afterwards; ComputeNext
// returns ErrSequenceStopped.
func (s *Sequence) Stop() error {
	s.rtMu.Lock()
	if s.stopped || s.worker == nil {
		s.rtMu.Unlock()
		return nil
	}
	s.stopped = true
	worker, mailbox := s.worker, s.mailbox
	s.rtMu.Unlock()

	err := worker.Stop()

	// Wake callers still waiting for the slot (worker never started)
	mailbox.Close()
	s.notifier.Close()

	logger().Info("sequence stopped", "component", "sequence")
	return err
}

// Restart replaces a stopped worker with a fresh one bound to ctx.
//
// A no-op while the current worker is running. The new worker gets a new
// mailbox: the old one was closed when the previous worker exited.
func (s *Sequence) Restart(ctx context.Context) error {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()

	if s.worker == nil {
		return ErrEmptySequence
	}
	if s.stopped {
		return ErrSequenceStopped
	}
	if s.worker.running() {
		return nil
	}

	// Never started: start the existing pair instead of replacing it
	if !s.started {
		if err := s.worker.Start(ctx); err != nil {
			return err
		}
		s.started = true
		return nil
	}

	mailbox := NewMailbox()
	worker := NewWorker(mailbox, s.oracle, s.publish, s.idleThreshold)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	prevErr := s.worker.Err()
	s.mailbox, s.worker = mailbox, worker
	s.restarts.Add(1)
	workerRestartsTotal.Inc()

	logger().Warn("worker restarted",
		"component", "sequence",
		"restarts", s.restarts.Load(),
		"previous_error", prevErr,
	)
	return nil
}

// Reset clears the sequence to Initial. Observers are not notified.
//
// A computation in flight at the time of the reset is discarded when it
// completes.
func (s *Sequence) Reset() {
	s.mu.Lock()
	if s.items == nil {
		s.mu.Unlock()
		return
	}
	s.items = []AntiPrime{Initial}
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	s.resets.Add(1)
	sequenceLength.Set(1)

	logger().Info("sequence reset", "component", "sequence", "epoch", epoch)
}

// ComputeNext asks the worker to compute the successor of the current last
// element and returns without waiting for the result.
//
// It blocks only while a request for a different base is pending. The wait
// ends with an ErrCanceled error when ctx ends or SubmitTimeout elapses.
// Returns an ErrWorkerStopped error when the worker has fail-stopped.
// Every error comes with SubmitRejected.
func (s *Sequence) ComputeNext(ctx context.Context) (Request, SubmitResult, error) {
	mailbox, worker, stopped := s.runtime()

	if mailbox == nil {
		return Request{}, SubmitRejected, ErrEmptySequence
	}
	if stopped {
		return Request{}, SubmitRejected, ErrSequenceStopped
	}

	base, epoch, err := s.tail()
	if err != nil {
		return Request{}, SubmitRejected, err
	}

	if s.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.submitTimeout)
		defer cancel()
	}

	return s.submit(ctx, mailbox, worker, base, epoch)
}

// submit hands the request to mailbox.
//
// A closed mailbox whose pair Restart has already replaced is not a stopped
// worker: the request is retried once on the current mailbox.
func (s *Sequence) submit(ctx context.Context, mailbox *Mailbox, worker *Worker, base AntiPrime, epoch uint64) (Request, SubmitResult, error) {
	req, result, err := mailbox.Submit(ctx, base, epoch)

	if errors.Is(err, ErrMailboxClosed) {
		current, currentWorker, stopped := s.runtime()
		if stopped {
			return Request{}, SubmitRejected, ErrSequenceStopped
		}
		if current != mailbox {
			worker = currentWorker
			req, result, err = current.Submit(ctx, base, epoch)
		}
	}

	if errors.Is(err, ErrMailboxClosed) {
		if cause := worker.Err(); cause != nil {
			return Request{}, SubmitRejected, fmt.Errorf("%w: %w", ErrWorkerStopped, cause)
		}
		return Request{}, SubmitRejected, ErrWorkerStopped
	}
	if err != nil {
		return Request{}, SubmitRejected, err
	}

	return req, result, nil
}

// runtime returns the current mailbox/worker pair.
func (s *Sequence) runtime() (*Mailbox, *Worker, bool) {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()
	return s.mailbox, s.worker, s.stopped
}

// Last returns the most recently appended element.
func (s *Sequence) Last() (AntiPrime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return AntiPrime{}, ErrEmptySequence
	}
	return s.items[len(s.items)-1], nil
}

// LastK returns a copy of the last min(k, Len()) elements, oldest first.
// k <= 0 returns an empty slice.
func (s *Sequence) LastK(k int) ([]AntiPrime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return nil, ErrEmptySequence
	}
	if k <= 0 {
		return []AntiPrime{}, nil
	}

	k = min(k, len(s.items))
	out := make([]AntiPrime, k)
	copy(out, s.items[len(s.items)-k:])
	return out, nil
}

// Len returns the number of elements.
func (s *Sequence) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Epoch returns the reset generation (0 until the first Reset).
func (s *Sequence) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Append adds v to the tail if it was computed from the current last element
// of the current epoch, then notifies. Reports whether v was appended.
//
// A result for an outdated base or epoch is discarded without error. A result
// for the current tail that does not extend it is an oracle failure: it is
// discarded and returned as an ErrOracleFailed error.
//
// Called by the worker only.
func (s *Sequence) Append(req Request, v AntiPrime) (bool, error) {
	s.mu.Lock()

	if len(s.items) == 0 {
		s.mu.Unlock()
		return false, ErrEmptySequence
	}

	if req.Epoch != s.epoch {
		s.mu.Unlock()
		s.discard("stale", req, v)
		return false, nil
	}

	last := s.items[len(s.items)-1]
	if req.Base != last {
		s.mu.Unlock()
		s.discard("duplicate", req, v)
		return false, nil
	}
	if !last.Extends(v) {
		s.mu.Unlock()
		s.discard("invalid", req, v)
		return false, fmt.Errorf("%w: %s does not extend %s", ErrOracleFailed, v, last)
	}

	s.items = append(s.items, v)
	index := len(s.items) - 1
	epoch := s.epoch
	s.mu.Unlock()

	s.appends.Add(1)
	appendsTotal.Inc()
	sequenceLength.Set(float64(index + 1))

	s.notifier.Notify(Event{
		Index:     index,
		Value:     v,
		Epoch:     epoch,
		RequestID: req.ID,
		At:        time.Now(),
	})

	return true, nil
}

// publish is the worker's PublishFunc.
func (s *Sequence) publish(req Request, v AntiPrime) error {
	_, err := s.Append(req, v)
	return err
}

func (s *Sequence) discard(reason string, req Request, v AntiPrime) {
	switch reason {
	case "stale":
		s.staleDiscards.Add(1)
	case "invalid":
		s.invalidResults.Add(1)
	default:
		s.duplicateDiscards.Add(1)
	}
	discardsTotal.WithLabelValues(reason).Inc()

	logger().Debug("result discarded",
		"component", "sequence",
		"reason", reason,
		"request_id", req.ID,
		"base", req.Base.String(),
		"value", v.String(),
	)
}

// tail returns the last element and the current epoch in one read.
func (s *Sequence) tail() (AntiPrime, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.items) == 0 {
		return AntiPrime{}, 0, ErrEmptySequence
	}
	return s.items[len(s.items)-1], s.epoch, nil
}

// AddObserver registers o to be called once after every append.
func (s *Sequence) AddObserver(o Observer) error {
	if s.notifier == nil {
		return ErrEmptySequence
	}
	return s.notifier.AddObserver(o)
}

// Subscribe registers ch to receive an Event after every append.
func (s *Sequence) Subscribe(id string, ch chan<- Event) error {
	if s.notifier == nil {
		return ErrEmptySequence
	}
	return s.notifier.Subscribe(id, ch)
}

// Unsubscribe removes a channel subscriber.
func (s *Sequence) Unsubscribe(id string) error {
	if s.notifier == nil {
		return ErrEmptySequence
	}
	return s.notifier.Unsubscribe(id)
}

// WorkerDone is closed when the current worker exits.
func (s *Sequence) WorkerDone() <-chan struct{} {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()

	if s.worker == nil || !s.started {
		return nil
	}
	return s.worker.Done()
}

// WorkerErr returns why the current worker exited, or nil while it runs.
func (s *Sequence) WorkerErr() error {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()

	if s.worker == nil {
		return nil
	}
	return s.worker.Err()
}

// WorkerRunning reports whether the current worker is started and alive.
func (s *Sequence) WorkerRunning() bool {
	s.rtMu.Lock()
	defer s.rtMu.Unlock()

	return s.worker != nil && s.worker.running()
}
