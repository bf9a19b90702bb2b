package internal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// stepOracle returns (value+1, divisors+1): cheap, always a valid extension.
func stepOracle() Oracle {
	return OracleFunc(func(ctx context.Context, cur AntiPrime) (AntiPrime, error) {
		return AntiPrime{Value: cur.Value + 1, Divisors: cur.Divisors + 1}, nil
	})
}

// gateOracle blocks every computation until release is signalled.
type gateOracle struct {
	started chan AntiPrime
	release chan struct{}
	inner   Oracle
}

func newGateOracle() *gateOracle {
	return &gateOracle{
		started: make(chan AntiPrime, 64),
		release: make(chan struct{}, 64),
		inner:   DefaultOracle(),
	}
}

func (g *gateOracle) Next(ctx context.Context, cur AntiPrime) (AntiPrime, error) {
	g.started <- cur
	select {
	case <-g.release:
	case <-ctx.Done():
		return AntiPrime{}, ctx.Err()
	}
	return g.inner.Next(ctx, cur)
}

// waitStarted blocks until the oracle has been entered once.
func (g *gateOracle) waitStarted(t *testing.T) AntiPrime {
	t.Helper()
	select {
	case cur := <-g.started:
		return cur
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for oracle to start")
		return AntiPrime{}
	}
}

// countingOracle records how many computations overlap.
type countingOracle struct {
	inner     Oracle
	delay     time.Duration
	calls     atomic.Int64
	active    atomic.Int64
	maxActive atomic.Int64
}

func (c *countingOracle) Next(ctx context.Context, cur AntiPrime) (AntiPrime, error) {
	c.calls.Add(1)
	n := c.active.Add(1)
	defer c.active.Add(-1)

	for {
		m := c.maxActive.Load()
		if n <= m || c.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	time.Sleep(c.delay)
	return c.inner.Next(ctx, cur)
}

// failOnce fails its first computation, then delegates.
func failOnce(inner Oracle) Oracle {
	var failed atomic.Bool
	return OracleFunc(func(ctx context.Context, cur AntiPrime) (AntiPrime, error) {
		if failed.CompareAndSwap(false, true) {
			return AntiPrime{}, errBoom
		}
		return inner.Next(ctx, cur)
	})
}

func newStartedSequence(t *testing.T, opts Options) *Sequence {
	t.Helper()
	s := NewSequence(opts)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func waitForLen(t *testing.T, s *Sequence, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Len() == n },
		2*time.Second, 5*time.Millisecond, "sequence never reached length %d", n)
}

func requireMonotonic(t *testing.T, items []AntiPrime) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		require.Truef(t, items[i-1].Extends(items[i]),
			"not monotonic at %d: %s then %s", i, items[i-1], items[i])
	}
}

// fakeTarget is a Restartable whose workers exit as exitFor dictates.
type fakeTarget struct {
	mu       sync.Mutex
	done     chan struct{}
	err      error
	restarts int
	exitFor  func(restart int) error // nil error = worker keeps running
}

func newFakeTarget(initial error, exitFor func(int) error) *fakeTarget {
	f := &fakeTarget{done: make(chan struct{}), err: initial, exitFor: exitFor}
	if initial != nil {
		close(f.done)
	}
	return f
}

func (f *fakeTarget) WorkerDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeTarget) WorkerErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeTarget) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.restarts++
	f.done = make(chan struct{})
	f.err = f.exitFor(f.restarts)
	if f.err != nil {
		close(f.done)
	}
	return nil
}

func (f *fakeTarget) restartCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restarts
}
