// Package stats holds the descriptive statistics used by the probability
// engine. All functions are pure and reject empty input.
package stats

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyInput is matched by every EmptyInputError via errors.Is.
var ErrEmptyInput = errors.New("empty input")

// EmptyInputError reports which operation received zero elements.
type EmptyInputError struct {
	Op string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("stats: %s of empty sequence", e.Op)
}

func (e *EmptyInputError) Is(target error) bool {
	return target == ErrEmptyInput
}

// Mean returns the arithmetic mean of xs.
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, &EmptyInputError{Op: "mean"}
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs)), nil
}

// StdDev returns the population standard deviation (divides by N). It is
// exactly zero when every element is equal.
func StdDev(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, &EmptyInputError{Op: "stddev"}
	}
	if constant(xs) {
		return 0, nil
	}
	mean, _ := Mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs))), nil
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// index floor(N·p/100), clamped to the last element. No interpolation.
func Percentile(sorted []float64, p float64) (float64, error) {
	if len(sorted) == 0 {
		return 0, &EmptyInputError{Op: "percentile"}
	}
	idx := int(math.Floor(float64(len(sorted)) * p / 100))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], nil
}

// Min returns the smallest element of xs.
func Min(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, &EmptyInputError{Op: "min"}
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x < m {
			m = x
		}
	}
	return m, nil
}

// Max returns the largest element of xs.
func Max(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, &EmptyInputError{Op: "max"}
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	return m, nil
}
