package vector

import "math"

// SquaredL2 returns the squared Euclidean distance between a and b, accumulated in float64.
// The vectors must have equal length.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// NonFinite returns the index of the first NaN or infinite component of v, or -1.
func NonFinite(v []float32) int {
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return i
		}
	}
	return -1
}
