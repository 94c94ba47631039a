// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package dsp

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotReady means the input is too short for the filter padding.
var ErrNotReady = errors.New("window too short for zero-phase filtering")

// FiltFilt applies the cascade forward and backward so the output carries no
// phase shift. Edges are handled by odd extension with steady-state initial
// conditions. The input must be longer than c.PadLen().
func FiltFilt(c Cascade, x []float64) ([]float64, error) {
	pad := c.PadLen()
	if len(x) <= pad {
		return nil, fmt.Errorf("%d samples, need more than %d: %w", len(x), pad, ErrNotReady)
	}

	ext := oddExtend(x, pad)
	zi := c.steadyState()

	y := c.filter(ext, zi, ext[0])
	reverse(y)
	y = c.filter(y, zi, y[0])
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[pad:pad+len(x)])
	return out, nil
}

func oddExtend(x []float64, pad int) []float64 {
	n := len(x)
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)
	return ext
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// Median returns the median of x, averaging the middle pair for even lengths.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, x)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
