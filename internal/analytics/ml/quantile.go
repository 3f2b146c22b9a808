package ml

import (
	"math"
	"sort"
)

// Quantile returns the q-quantile of values using linear interpolation
// between the two closest ranks (position q*(n-1) in the sorted data).
// It returns NaN for empty input. values is not modified.
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	switch {
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}

	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	if frac >= 0.5 {
		return sorted[hi] - (sorted[hi]-sorted[lo])*(1-frac)
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
