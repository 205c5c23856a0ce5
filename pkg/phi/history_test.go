package phi

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/montanaflynn/stats"
)

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, x := range v {
		out[i] = time.Duration(x) * time.Millisecond
	}
	return out
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(10)
	if h.Len() != 0 {
		t.Fatalf("Len = %d, want 0", h.Len())
	}
	if h.Mean() != 0 || h.Variance() != 0 || h.StdDeviation() != 0 {
		t.Fatalf("empty history stats = (%v,%v,%v), want zeros", h.Mean(), h.Variance(), h.StdDeviation())
	}
}

func TestHistorySingleSampleHasZeroVariance(t *testing.T) {
	h := NewHistory(10)
	h.Add(300 * time.Millisecond)
	if h.Mean() != 300*time.Millisecond {
		t.Fatalf("Mean = %v, want 300ms", h.Mean())
	}
	if h.Variance() != 0 {
		t.Fatalf("Variance = %v, want 0", h.Variance())
	}
}

func TestHistoryMeanAndVariance(t *testing.T) {
	// window of 10 drops the first of these 11 intervals
	h := NewHistory(10)
	for _, d := range ms(1630, 4421, 1514, 216, 231, 931, 4182, 102, 104, 241, 5132) {
		h.Add(d)
	}

	if h.Len() != 10 {
		t.Fatalf("Len = %d, want 10", h.Len())
	}
	if got := h.Mean(); got != 1707400*time.Microsecond {
		t.Fatalf("Mean = %v, want 1.7074s", got)
	}
	gotVar := h.Variance() / float64(time.Millisecond*time.Millisecond)
	if math.Abs(gotVar-3755791.64) > 1e-3 {
		t.Fatalf("Variance = %.4f ms^2, want 3755791.64", gotVar)
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	const size, extra = 5, 3
	h := NewHistory(size)
	for i := 1; i <= size+extra; i++ {
		h.Add(time.Duration(i) * time.Second)
	}

	if h.Len() != size {
		t.Fatalf("Len = %d, want %d", h.Len(), size)
	}
	got := h.Samples()
	for i, d := range got {
		want := time.Duration(extra+1+i) * time.Second
		if d != want {
			t.Fatalf("Samples()[%d] = %v, want %v (all: %v)", i, d, want, got)
		}
	}
	if h.Mean() != 6*time.Second {
		t.Fatalf("Mean = %v, want 6s", h.Mean())
	}
}

func TestHistoryMatchesReferenceStats(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := NewHistory(200)
	var all []float64
	for i := 0; i < 1000; i++ {
		d := time.Duration(100+rng.Intn(900)) * time.Millisecond
		h.Add(d)
		all = append(all, float64(d))
	}
	window := all[len(all)-200:]

	wantMean, err := stats.Mean(window)
	if err != nil {
		t.Fatal(err)
	}
	wantStd, err := stats.StandardDeviationPopulation(window)
	if err != nil {
		t.Fatal(err)
	}

	if diff := math.Abs(float64(h.Mean()) - wantMean); diff > 1 {
		t.Fatalf("Mean = %v, want %v", h.Mean(), time.Duration(wantMean))
	}
	// running sums lose a little precision after many evictions
	if diff := math.Abs(float64(h.StdDeviation()) - wantStd); diff > float64(time.Microsecond) {
		t.Fatalf("StdDeviation = %v, want %v", h.StdDeviation(), time.Duration(wantStd))
	}
}

func TestHistoryConstantIntervals(t *testing.T) {
	h := NewHistory(50)
	for i := 0; i < 500; i++ {
		h.Add(10 * time.Millisecond)
	}
	if h.Mean() != 10*time.Millisecond {
		t.Fatalf("Mean = %v, want 10ms", h.Mean())
	}
	if h.StdDeviation() != 0 {
		t.Fatalf("StdDeviation = %v, want 0", h.StdDeviation())
	}
}
