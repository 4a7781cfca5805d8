// Package stats provides streaming mean/variance accumulators.
package stats

import "math"

// Stats is a Welford running mean and variance.
// The zero value is ready to use.
type Stats struct {
	N      int
	Sum    float64
	VarSum float64
}

// Add folds one value into the statistic.
func (s *Stats) Add(value float64) {
	if s.N == 0 {
		s.N = 1
		s.Sum = value
		return
	}
	meanPrevious := s.Sum / float64(s.N)
	s.N++
	s.Sum += value
	mean := s.Sum / float64(s.N)
	s.VarSum += (value - meanPrevious) * (value - mean)
}

// Mean returns the running mean, or false if nothing was added.
func (s *Stats) Mean() (float64, bool) {
	if s.N == 0 {
		return math.NaN(), false
	}
	return s.Sum / float64(s.N), true
}

// Variance returns the population variance, or false with fewer than two values.
func (s *Stats) Variance() (float64, bool) {
	if s.N < 2 {
		return math.NaN(), false
	}
	return s.VarSum / float64(s.N), true
}
