package cooke

import (
	"math"
)

// binProbabilities returns the probability mass between consecutive levels,
// including the tails below the first and above the last level.
func binProbabilities(levels []float64) []float64 {
	p := make([]float64, len(levels)+1)
	prev := 0.0
	for i, q := range levels {
		p[i] = q - prev
		prev = q
	}
	p[len(levels)] = 1 - prev
	return p
}

// itemInformation is the relative information of the piecewise uniform density
// defined by values with respect to the background measure on b.
// Degenerate ranges or bins yield 0.
func itemInformation(values, p []float64, b bounds) float64 {
	if !b.ok || len(values) == 0 {
		return 0
	}
	r := b.width()
	if !(r > 0) {
		return 0
	}
	info := math.Log(r)
	prev := b.lower
	for k := 0; k <= len(values); k++ {
		next := b.upper
		if k < len(values) {
			next = values[k]
		}
		w := next - prev
		if !(w > 0) {
			return 0
		}
		if p[k] > 0 {
			info += p[k] * math.Log(p[k]/w)
		}
		prev = next
	}
	return info
}

// meanNonZero averages the non-zero entries of scores; 0 when there are none.
func meanNonZero(scores []float64, include func(i int) bool) float64 {
	sum, n := 0.0, 0
	for i, s := range scores {
		if !include(i) || s == 0 {
			continue
		}
		sum += s
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
