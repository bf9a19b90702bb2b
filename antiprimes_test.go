package antiprimes_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/antiprimes"
)

func waitLen(t *testing.T, seq antiprimes.Sequence, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for seq.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Len()=%d (expected %d)", seq.Len(), n)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// --- Test 1: First Antiprimes ---

// TestFirstAntiprimes validates the end-to-end flow through the public API.
//
// Scenario:
//  1. Start a sequence with the default oracle
//  2. ComputeNext 6 times, waiting for each append
//  3. Assert: LastK(7) is 1, 2, 4, 6, 12, 24, 36 with divisor counts 1..9
func TestFirstAntiprimes(t *testing.T) {
	seq := antiprimes.New(antiprimes.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seq.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer seq.Stop()

	var updates atomic.Int64
	if err := seq.AddObserver(antiprimes.ObserverFunc(func() { updates.Add(1) })); err != nil {
		t.Fatalf("AddObserver() failed: %v", err)
	}

	for i := 1; i <= 6; i++ {
		if _, _, err := seq.ComputeNext(ctx); err != nil {
			t.Fatalf("ComputeNext() failed: %v", err)
		}
		waitLen(t, seq, i+1)
	}

	got, err := seq.LastK(7)
	if err != nil {
		t.Fatalf("LastK() failed: %v", err)
	}

	want := []antiprimes.AntiPrime{
		{Value: 1, Divisors: 1},
		{Value: 2, Divisors: 2},
		{Value: 4, Divisors: 3},
		{Value: 6, Divisors: 4},
		{Value: 12, Divisors: 6},
		{Value: 24, Divisors: 8},
		{Value: 36, Divisors: 9},
	}
	if len(got) != len(want) {
		t.Fatalf("LastK(7) returned %d elements (expected %d)", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %s (expected %s)", i, got[i], want[i])
		}
	}

	// Observers run after the append becomes visible
	deadline := time.Now().Add(time.Second)
	for updates.Load() != 6 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if n := updates.Load(); n != 6 {
		t.Errorf("observer called %d times (expected 6)", n)
	}
}

// --- Test 2: Reset ---

// TestResetRestoresInitial validates that Reset returns to the singleton state
// and bumps the epoch.
func TestResetRestoresInitial(t *testing.T) {
	seq := antiprimes.New(antiprimes.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seq.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer seq.Stop()

	if _, _, err := seq.ComputeNext(ctx); err != nil {
		t.Fatalf("ComputeNext() failed: %v", err)
	}
	waitLen(t, seq, 2)

	seq.Reset()

	last, err := seq.Last()
	if err != nil {
		t.Fatalf("Last() failed: %v", err)
	}
	if last != antiprimes.Initial || seq.Len() != 1 {
		t.Errorf("after Reset: Last()=%s Len()=%d (expected %s, 1)", last, seq.Len(), antiprimes.Initial)
	}
	if seq.Epoch() != 1 {
		t.Errorf("Epoch()=%d (expected 1)", seq.Epoch())
	}
}

// --- Test 3: Fail-stop + Supervise ---

// TestSuperviseRestartsFailedWorker validates owner-driven restart.
//
// Scenario:
//  1. Oracle fails on its first call
//  2. Supervise restarts the worker
//  3. ComputeNext succeeds on the new worker
//  4. Stop ends Supervise with nil
func TestSuperviseRestartsFailedWorker(t *testing.T) {
	var calls atomic.Int64
	oracle := antiprimes.OracleFunc(func(ctx context.Context, cur antiprimes.AntiPrime) (antiprimes.AntiPrime, error) {
		if calls.Add(1) == 1 {
			return antiprimes.AntiPrime{}, errors.New("transient")
		}
		return antiprimes.DefaultOracle().Next(ctx, cur)
	})

	seq := antiprimes.New(antiprimes.Options{Oracle: oracle})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := seq.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	supervised := make(chan error, 1)
	go func() {
		supervised <- antiprimes.Supervise(ctx, seq, antiprimes.RestartConfig{
			MaxRetries:    3,
			RetryDelay:    time.Millisecond,
			MaxRetryDelay: 10 * time.Millisecond,
		})
	}()

	if _, _, err := seq.ComputeNext(ctx); err != nil {
		t.Fatalf("ComputeNext() failed: %v", err)
	}

	// Retry until the restarted worker accepts the request
	deadline := time.Now().Add(2 * time.Second)
	for seq.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sequence did not grow after restart (stats: %+v)", seq.Stats())
		}
		_, _, err := seq.ComputeNext(ctx)
		if err != nil && !errors.Is(err, antiprimes.ErrWorkerStopped) {
			t.Fatalf("ComputeNext() unexpected error: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if r := seq.Stats().Restarts; r != 1 {
		t.Errorf("Restarts=%d (expected 1)", r)
	}

	if err := seq.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	select {
	case err := <-supervised:
		if err != nil {
			t.Errorf("Supervise() returned %v (expected nil after Stop)", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Supervise() did not return after Stop")
	}
}

// --- Test 4: Zero-value safety through errors ---

func TestErrorsAreStable(t *testing.T) {
	seq := antiprimes.New(antiprimes.Options{})
	if err := seq.Stop(); err != nil {
		t.Fatalf("Stop() before Start failed: %v", err)
	}

	_, _, err := seq.ComputeNext(context.Background())
	if !errors.Is(err, antiprimes.ErrSequenceStopped) {
		t.Errorf("ComputeNext() after Stop = %v (expected ErrSequenceStopped)", err)
	}

	if err := seq.AddObserver(nil); !errors.Is(err, antiprimes.ErrNilObserver) {
		t.Errorf("AddObserver(nil) = %v (expected ErrNilObserver)", err)
	}
}
