package phi

import "math"

// MaxPhi is the largest value Phi reports. It corresponds to a survival
// probability clamped at the smallest positive float64.
var MaxPhi = -math.Log10(math.SmallestNonzeroFloat64)

// NormalCDF is the cumulative distribution function of a normal
// distribution with the given mean and standard deviation, evaluated at x.
func NormalCDF(x, mean, std float64) float64 {
	return 0.5 * (1 + math.Erf((x-mean)/(std*math.Sqrt2)))
}

// survival returns 1 - NormalCDF(x, mean, std). Computing it through erfc
// keeps full precision in the upper tail where 1-cdf would cancel to zero.
func survival(x, mean, std float64) float64 {
	return 0.5 * math.Erfc((x-mean)/(std*math.Sqrt2))
}

// PhiOf computes -log10(1 - F(elapsed)) where F is the normal CDF with the
// given mean and standard deviation. All three arguments share one unit.
// The result is finite and capped at MaxPhi.
func PhiOf(elapsed, mean, std float64) float64 {
	if std <= 0 {
		// degenerate distribution: a step at the mean
		if elapsed > mean {
			return MaxPhi
		}
		return 0
	}
	p := survival(elapsed, mean, std)
	if p < math.SmallestNonzeroFloat64 || math.IsNaN(p) {
		p = math.SmallestNonzeroFloat64
	}
	return math.Max(0, -math.Log10(p))
}
