package internal

import (
	"math"
	"sync"
	"time"
)

// latencyWindowSize is the number of recent oracle durations kept for LatencyStats.
const latencyWindowSize = 64

// LatencyStats summarises recent oracle computation durations.
type LatencyStats struct {
	// Samples is the number of durations in the window.
	Samples int `json:"samples"`
	// Mean is the arithmetic mean duration.
	Mean time.Duration `json:"mean"`
	// StdDev is the population standard deviation.
	StdDev time.Duration `json:"std_dev"`
	// Min is the fastest computation in the window.
	Min time.Duration `json:"min"`
	// Max is the slowest computation in the window.
	Max time.Duration `json:"max"`
	// Growth is the ratio of the newest duration to the mean (searches get
	// slower as the sequence grows; >1 means the last search was above average).
	Growth float64 `json:"growth"`
}

// latencyWindow is a fixed-size ring of recent durations.
type latencyWindow struct {
	mu      sync.Mutex
	samples [latencyWindowSize]time.Duration
	next    int
	count   int
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d
	w.next = (w.next + 1) % latencyWindowSize
	if w.count < latencyWindowSize {
		w.count++
	}
}

// snapshot returns the samples oldest-first.
func (w *latencyWindow) snapshot() []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]time.Duration, 0, w.count)
	start := (w.next - w.count + latencyWindowSize) % latencyWindowSize
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%latencyWindowSize])
	}
	return out
}

// CalculateLatencyStats computes mean, deviation and range of durations
// (oldest-first; the last element is treated as the newest).
func CalculateLatencyStats(durations []time.Duration) LatencyStats {
	n := len(durations)

	// Handle edge case: no samples
	if n == 0 {
		return LatencyStats{}
	}

	var sum float64
	minD, maxD := durations[0], durations[0]
	for _, d := range durations {
		sum += float64(d)
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}
	mean := sum / float64(n)

	var sumSquares float64
	for _, d := range durations {
		diff := float64(d) - mean
		sumSquares += diff * diff
	}
	stdDev := math.Sqrt(sumSquares / float64(n))

	growth := 0.0
	if mean > 0 {
		growth = float64(durations[n-1]) / mean
	}

	return LatencyStats{
		Samples: n,
		Mean:    time.Duration(mean),
		StdDev:  time.Duration(stdDev),
		Min:     minD,
		Max:     maxD,
		Growth:  growth,
	}
}
