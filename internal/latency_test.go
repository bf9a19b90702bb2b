package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateLatencyStats_Empty(t *testing.T) {
	assert.Equal(t, LatencyStats{}, CalculateLatencyStats(nil))
}

func TestCalculateLatencyStats(t *testing.T) {
	durations := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		60 * time.Millisecond,
	}

	stats := CalculateLatencyStats(durations)

	assert.Equal(t, 4, stats.Samples)
	assert.Equal(t, 30*time.Millisecond, stats.Mean)
	assert.Equal(t, 10*time.Millisecond, stats.Min)
	assert.Equal(t, 60*time.Millisecond, stats.Max)
	assert.InDelta(t, 2.0, stats.Growth, 0.0001)
	// sqrt((400+100+0+900)/4) ms
	assert.InDelta(t, float64(18708*time.Microsecond), float64(stats.StdDev), float64(time.Microsecond))
}

func TestLatencyWindow_Wraps(t *testing.T) {
	var w latencyWindow

	for i := 1; i <= latencyWindowSize+3; i++ {
		w.add(time.Duration(i))
	}

	got := w.snapshot()
	assert.Len(t, got, latencyWindowSize)
	assert.Equal(t, time.Duration(4), got[0], "oldest samples evicted first")
	assert.Equal(t, time.Duration(latencyWindowSize+3), got[len(got)-1])
}
