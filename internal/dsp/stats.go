package dsp

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Median returns the median of x, averaging the two middle values for even
// lengths. x is not modified. Returns 0 for empty input.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	s := make([]float64, n)
	copy(s, x)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// LinearFit returns the least-squares line y = intercept + slope*x.
func LinearFit(x, y []float64) (intercept, slope float64) {
	return stat.LinearRegression(x, y, nil, false)
}

// Slope returns the least-squares slope of y against x.
func Slope(x, y []float64) float64 {
	_, slope := LinearFit(x, y)
	return slope
}

// Welford accumulates mean and variance in a single numerically stable pass.
type Welford struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one value into the accumulator.
func (w *Welford) Add(x float64) {
	w.n++
	d := x - w.mean
	w.mean += d / float64(w.n)
	w.m2 += d * (x - w.mean)
}

// N returns the number of values seen.
func (w *Welford) N() int { return w.n }

// Mean returns the running mean.
func (w *Welford) Mean() float64 { return w.mean }

// SampleVariance uses the n-1 denominator; it is 0 below two values.
func (w *Welford) SampleVariance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n-1)
}

// PopulationVariance uses the n denominator.
func (w *Welford) PopulationVariance() float64 {
	if w.n == 0 {
		return 0
	}
	return w.m2 / float64(w.n)
}
