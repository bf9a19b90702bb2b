// Package antiprimes maintains a growing sequence of antiprimes (highly
// composite numbers) and computes each successor in a background worker.
//
// # Design
//
//	caller → ComputeNext → Mailbox (1 slot) → Worker → Oracle → Append → Observers
//
// Properties:
//
//  1. Single-slot mailbox: at most one distinct pending request. A caller
//     blocks only while a different request occupies the slot.
//  2. Deduplication: a request identical to the pending or in-flight one is
//     coalesced, so concurrent callers grow the sequence by one per round.
//  3. Clear-before-compute: the worker empties the slot as soon as it takes
//     a request, not when it finishes.
//  4. Fail-stop worker: cancellation or an oracle error ends the worker;
//     the owner restarts it (Restart, Supervise).
//  5. Reset epochs: a result computed before Reset is discarded, never
//     appended to the new sequence.
//
// # Basic Usage
//
//	seq := antiprimes.New(antiprimes.Options{})
//	if err := seq.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer seq.Stop()
//
//	seq.AddObserver(antiprimes.ObserverFunc(func() {
//	    last, _ := seq.Last()
//	    fmt.Println("new antiprime:", last)
//	}))
//
//	seq.ComputeNext(ctx)  // Returns immediately
//
// Observers run on the worker goroutine; keep them short and never call Stop
// from one.
package antiprimes
