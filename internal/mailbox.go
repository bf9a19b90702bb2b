package internal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Mailbox is the single-slot handoff between callers and the worker.
//
// Architecture:
//   - Single-slot buffer (pending *Request, nil = empty)
//   - Blocking consume (sync.Cond.Wait) on the worker side
//   - Blocking produce on the caller side, only while a *different* request
//     is pending; identical requests are coalesced
//   - Clear-before-compute: Take empties the slot the moment the worker
//     accepts a request, so the next distinct request can queue while the
//     previous computation is still running
//
// Deduplication covers both the pending request and the request the worker
// is currently computing (inFlight), so a caller that reads the same tail
// again before the result is appended does not trigger a second search.
//
// Thread-safety:
//   - All fields protected by mu (counters are atomic so Stats never blocks)
//   - Submit: any number of caller goroutines
//   - Take/Done: the single worker goroutine
type Mailbox struct {
	// --- Mailbox State ---

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *Request // Single-slot buffer (nil = empty)
	inFlight *Request // Request the worker accepted and has not finished
	closed   bool     // True after Close (worker gone)

	// --- Operational Stats ---

	accepted  atomic.Uint64
	coalesced atomic.Uint64
	waits     atomic.Uint64 // Times a caller blocked behind a different request
	canceled  atomic.Uint64
}

// MailboxStats is a snapshot of mailbox state.
type MailboxStats struct {
	Pending   *Request `json:"pending,omitempty"`
	InFlight  *Request `json:"in_flight,omitempty"`
	Closed    bool     `json:"closed"`
	Accepted  uint64   `json:"accepted"`
	Coalesced uint64   `json:"coalesced"`
	Waits     uint64   `json:"waits"`
	Canceled  uint64   `json:"canceled"`
}

// NewMailbox creates an empty, open mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Submit asks the worker to compute the successor of base.
//
// Algorithm:
//  1. Slot holds an identical request (same base and epoch) → return it, coalesced
//  2. Slot empty, worker computing an identical request → return it, coalesced
//  3. Slot empty → store a new request, wake the worker, accepted
//  4. Slot holds a different request → wait until Take empties it, retry from 1
//
// The wait is cancellable through ctx; a cancelled wait returns an error
// matching ErrCanceled and the context cause. Returns ErrMailboxClosed once
// the worker has terminated.
//
// Submit never waits for the computation itself.
func (m *Mailbox) Submit(ctx context.Context, base AntiPrime, epoch uint64) (Request, SubmitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var waitStart time.Time

	for {
		if m.closed {
			submissionsTotal.WithLabelValues("closed").Inc()
			return Request{}, SubmitRejected, ErrMailboxClosed
		}

		if m.pending.matches(base, epoch) {
			return m.coalesce(*m.pending, waitStart)
		}

		if m.pending == nil {
			if m.inFlight.matches(base, epoch) {
				return m.coalesce(*m.inFlight, waitStart)
			}

			req := Request{
				ID:          uuid.NewString(),
				Base:        base,
				Epoch:       epoch,
				SubmittedAt: time.Now(),
			}
			m.pending = &req
			m.accepted.Add(1)
			submissionsTotal.WithLabelValues("accepted").Inc()
			observeWait(waitStart)

			// Wake the worker (and any waiting caller, who will re-check)
			m.cond.Broadcast()

			logger().Debug("mailbox: request accepted",
				"component", "mailbox",
				"request_id", req.ID,
				"base", req.Base.String(),
				"epoch", req.Epoch,
			)
			return req, SubmitAccepted, nil
		}

		// A different request is outstanding: block until the slot frees
		if waitStart.IsZero() {
			waitStart = time.Now()
			m.waits.Add(1)
		}

		if err := m.wait(ctx); err != nil {
			m.canceled.Add(1)
			submissionsTotal.WithLabelValues("canceled").Inc()
			observeWait(waitStart)
			return Request{}, SubmitRejected, canceled(err)
		}
	}
}

func (m *Mailbox) coalesce(req Request, waitStart time.Time) (Request, SubmitResult, error) {
	m.coalesced.Add(1)
	submissionsTotal.WithLabelValues("coalesced").Inc()
	observeWait(waitStart)
	return req, SubmitCoalesced, nil
}

// Take blocks until a request is pending, then empties the slot and returns it.
//
// The returned request becomes the in-flight request until Done is called.
// Emptying the slot wakes callers blocked in Submit.
//
// Returns ErrMailboxClosed after Close, or an ErrCanceled error when ctx ends.
func (m *Mailbox) Take(ctx context.Context) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		if m.closed {
			return Request{}, ErrMailboxClosed
		}

		if m.pending != nil {
			break
		}

		if err := m.wait(ctx); err != nil {
			return Request{}, canceled(err)
		}
	}

	// Consume request (clear-before-compute)
	req := *m.pending
	m.pending = nil
	m.inFlight = &req

	// Wake callers blocked behind the request we just took
	m.cond.Broadcast()

	return req, nil
}

// Done marks the in-flight request as finished (published or abandoned).
func (m *Mailbox) Done(req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight != nil && m.inFlight.ID == req.ID {
		m.inFlight = nil
	}
}

// Close rejects all further submissions and wakes every waiter.
//
// Idempotent: safe to call multiple times.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.closed = true
	m.pending = nil
	m.inFlight = nil
	m.cond.Broadcast()
}

// Stats returns a snapshot of the mailbox.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	stats := MailboxStats{Closed: m.closed}
	if m.pending != nil {
		p := *m.pending
		stats.Pending = &p
	}
	if m.inFlight != nil {
		f := *m.inFlight
		stats.InFlight = &f
	}
	m.mu.Unlock()

	stats.Accepted = m.accepted.Load()
	stats.Coalesced = m.coalesced.Load()
	stats.Waits = m.waits.Load()
	stats.Canceled = m.canceled.Load()

	return stats
}

// wait blocks on cond until broadcast or until ctx is done. Caller holds mu.
//
// sync.Cond has no context support: a context.AfterFunc broadcasts under mu
// when ctx ends, which wakes this waiter (and harmlessly, all others).
func (m *Mailbox) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if ctx.Done() == nil {
		m.cond.Wait()
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	m.cond.Wait()
	stop()

	return ctx.Err()
}

func observeWait(start time.Time) {
	if !start.IsZero() {
		submitWaitSeconds.Observe(time.Since(start).Seconds())
	}
}
