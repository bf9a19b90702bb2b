// Package oracle finds successors in the antiprime (highly composite number)
// sequence.
//
// The search is a pure function of its input: given an antiprime and its
// divisor count, Next returns the smallest larger integer with strictly more
// divisors. No state is shared between calls, so a single Func may be used
// from any goroutine.
package oracle

import (
	"context"
	"errors"
)

// ErrOverflow is returned when the successor does not fit in a uint64.
var ErrOverflow = errors.New("oracle: successor overflows uint64")

// cancelCheckInterval is how many candidates are examined between context checks.
const cancelCheckInterval = 1024

// Func computes the successor of (value, divisors).
//
// Contract:
//   - next > value and nextDivisors > divisors
//   - no integer strictly between value and next has more than divisors divisors
//   - returns ctx.Err() if cancelled before a result is found
type Func func(ctx context.Context, value, divisors uint64) (next, nextDivisors uint64, err error)

// Default returns the trial-division search used when no oracle is injected.
func Default() Func {
	return Next
}

// Next returns the smallest integer greater than value whose divisor count
// exceeds divisors.
func Next(ctx context.Context, value, divisors uint64) (uint64, uint64, error) {
	for m, checked := value+1, 0; ; m, checked = m+1, checked+1 {
		if m == 0 {
			return 0, 0, ErrOverflow
		}

		if checked%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, err
			}
		}

		if d := DivisorCount(m); d > divisors {
			return m, d, nil
		}
	}
}

// DivisorCount returns the number of positive divisors of n.
//
// Uses the prime factorisation n = p1^e1 · ... · pk^ek, d(n) = Π(ei + 1).
// DivisorCount(0) is 0.
func DivisorCount(n uint64) uint64 {
	if n == 0 {
		return 0
	}

	count := uint64(1)

	for p := uint64(2); p <= n/p; p++ {
		if n%p != 0 {
			continue
		}

		exp := uint64(0)
		for n%p == 0 {
			n /= p
			exp++
		}
		count *= exp + 1
	}

	// Remaining factor is prime
	if n > 1 {
		count *= 2
	}

	return count
}
