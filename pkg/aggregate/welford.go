package aggregate

import "math"

// Welford accumulates mean and variance in one pass
type Welford struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one observation in
func (w *Welford) Add(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observations
func (w Welford) Count() int { return w.n }

// Mean returns the running mean
func (w Welford) Mean() float64 { return w.mean }

// Variance returns the sample variance, 0 for fewer than two observations
func (w Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n-1)
}

// StdDev returns the sample standard deviation
func (w Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}
