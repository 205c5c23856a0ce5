package phi

import (
	"math"
	"time"
)

// History is a bounded window of heartbeat inter-arrival intervals.
// It keeps running aggregates so Mean and Variance are O(1).
// History is not safe for concurrent use; Detector guards it.
type History struct {
	samples    []time.Duration // circular, len == cap once full
	head       int             // index of the oldest sample when full
	max        int
	sum        time.Duration
	sumSquares float64 // ns^2
}

// NewHistory returns an empty window holding at most maxSampleSize intervals.
func NewHistory(maxSampleSize int) *History {
	if maxSampleSize <= 0 {
		maxSampleSize = DefaultMaxSampleSize
	}
	return &History{
		samples: make([]time.Duration, 0, maxSampleSize),
		max:     maxSampleSize,
	}
}

// Add appends an interval, evicting the oldest one when the window is full.
func (h *History) Add(d time.Duration) {
	if d < 0 {
		d = 0
	}
	if len(h.samples) < h.max {
		h.samples = append(h.samples, d)
	} else {
		old := h.samples[h.head]
		h.sum -= old
		h.sumSquares -= float64(old) * float64(old)
		h.samples[h.head] = d
		h.head = (h.head + 1) % h.max
	}
	h.sum += d
	h.sumSquares += float64(d) * float64(d)
}

// Len is the number of intervals currently held.
func (h *History) Len() int { return len(h.samples) }

// Cap is the maximum number of intervals the window holds.
func (h *History) Cap() int { return h.max }

// Mean of the current window, zero when empty.
func (h *History) Mean() time.Duration {
	if len(h.samples) == 0 {
		return 0
	}
	return time.Duration(h.mean())
}

func (h *History) mean() float64 {
	return float64(h.sum) / float64(len(h.samples))
}

// Variance is the population variance in ns^2. Windows with fewer than
// two samples have zero variance.
func (h *History) Variance() float64 {
	n := len(h.samples)
	if n < 2 {
		return 0
	}
	m := h.mean()
	v := h.sumSquares/float64(n) - m*m
	if v < 0 {
		// running sums drift slightly below zero for constant intervals
		return 0
	}
	return v
}

// StdDeviation is the square root of Variance, unfloored.
func (h *History) StdDeviation() time.Duration {
	return time.Duration(math.Sqrt(h.Variance()))
}

// Samples returns a copy of the window, oldest first.
func (h *History) Samples() []time.Duration {
	out := make([]time.Duration, 0, len(h.samples))
	out = append(out, h.samples[h.head:]...)
	out = append(out, h.samples[:h.head]...)
	return out
}
