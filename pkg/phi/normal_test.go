package phi

import (
	"math"
	"testing"
)

func TestNormalCDF(t *testing.T) {
	var cdfTests = []struct {
		x, mean, std float64
		want         float64
	}{
		{0, 0, 1, 0.5},
		{1, 0, 1, 0.8413447460685429},
		{-1, 0, 1, 0.15865525393145707},
		{2, 0, 1, 0.9772498680518208},
		{700, 500, 100, 0.9772498680518208},
		{3, 0, 1, 0.9986501019683699},
	}

	for _, tt := range cdfTests {
		got := NormalCDF(tt.x, tt.mean, tt.std)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("NormalCDF(%v, %v, %v) = %v, want %v", tt.x, tt.mean, tt.std, got, tt.want)
		}
	}
}

func TestPhiOfMatchesCDF(t *testing.T) {
	for _, x := range []float64{-3, -1, 0, 0.5, 1, 2, 4} {
		want := -math.Log10(1 - NormalCDF(x, 0, 1))
		got := PhiOf(x, 0, 1)
		if math.Abs(got-want) > 1e-7 {
			t.Errorf("PhiOf(%v, 0, 1) = %v, want %v", x, got, want)
		}
	}
}

func TestPhiOfTailIsFiniteAndCapped(t *testing.T) {
	last := 0.0
	for x := 0.0; x <= 1000; x += 0.5 {
		got := PhiOf(x, 0, 1)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("PhiOf(%v, 0, 1) = %v, want finite", x, got)
		}
		if got < last {
			t.Fatalf("PhiOf not monotonic: PhiOf(%v) = %v < %v", x, got, last)
		}
		last = got
	}
	if last != MaxPhi {
		t.Fatalf("PhiOf far tail = %v, want MaxPhi %v", last, MaxPhi)
	}
}

func TestPhiOfZeroStdDeviation(t *testing.T) {
	if got := PhiOf(10, 10, 0); got != 0 {
		t.Fatalf("PhiOf at mean with zero std = %v, want 0", got)
	}
	if got := PhiOf(11, 10, 0); got != MaxPhi {
		t.Fatalf("PhiOf past mean with zero std = %v, want MaxPhi", got)
	}
}

func TestPhiOfNeverNegative(t *testing.T) {
	if got := PhiOf(-1e6, 0, 1); got != 0 {
		t.Fatalf("PhiOf far below mean = %v, want 0", got)
	}
}
