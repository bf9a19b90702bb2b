package oracle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDivisorCount checks small values against hand-counted divisor sets.
func TestDivisorCount(t *testing.T) {
	cases := map[uint64]uint64{
		0:    0,
		1:    1,
		2:    2,
		4:    3,
		6:    4,
		7:    2,
		12:   6,
		36:   9,
		97:   2,
		360:  24,
		1024: 11,
		5040: 60,
	}

	for n, want := range cases {
		assert.Equal(t, want, DivisorCount(n), "d(%d)", n)
	}
}

// TestNext_KnownSequence walks the first antiprimes from (1, 1).
func TestNext_KnownSequence(t *testing.T) {
	want := []struct{ value, divisors uint64 }{
		{2, 2}, {4, 3}, {6, 4}, {12, 6}, {24, 8}, {36, 9}, {48, 10},
		{60, 12}, {120, 16}, {180, 18}, {240, 20}, {360, 24}, {720, 30},
		{840, 32}, {1260, 36}, {1680, 40}, {2520, 48}, {5040, 60},
	}

	ctx := context.Background()
	value, divisors := uint64(1), uint64(1)

	for _, w := range want {
		next, nextDivisors, err := Next(ctx, value, divisors)
		require.NoError(t, err)
		assert.Equal(t, w.value, next)
		assert.Equal(t, w.divisors, nextDivisors)

		value, divisors = next, nextDivisors
	}
}

// TestNext_Cancelled verifies a cancelled context aborts the search without a result.
func TestNext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Next(ctx, 1, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNext_DeadlineDuringSearch verifies a long search observes its deadline.
func TestNext_DeadlineDuringSearch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// No integer near 1e9 has 10000 divisors; the search runs until the deadline.
	_, _, err := Next(ctx, 1_000_000_000, 10_000)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

// TestNext_Overflow verifies wrap-around is reported instead of restarting at zero.
func TestNext_Overflow(t *testing.T) {
	_, _, err := Next(context.Background(), math.MaxUint64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDefault(t *testing.T) {
	next, d, err := Default()(context.Background(), 6, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(12), next)
	assert.Equal(t, uint64(6), d)
}
