// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package dsp holds the preprocessing chain: IIR filter design, zero-phase
// cascade filtering and the spectral helpers used for signal quality.
package dsp

import (
	"math"
	"math/cmplx"
)

// Section is one second-order IIR stage with A[0] == 1.
type Section struct {
	B [3]float64
	A [3]float64
}

// Cascade is a series of second-order sections applied in order.
type Cascade []Section

// PadLen is the odd-extension length used by FiltFilt.
func (c Cascade) PadLen() int {
	return 3 * (2*len(c) + 1)
}

// Response evaluates the complex frequency response at f Hz.
func (c Cascade) Response(f, fs float64) complex128 {
	w := 2 * math.Pi * f / fs
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, s := range c {
		num := complex(s.B[0], 0) + complex(s.B[1], 0)*z1 + complex(s.B[2], 0)*z2
		den := complex(1, 0) + complex(s.A[1], 0)*z1 + complex(s.A[2], 0)*z2
		h *= num / den
	}
	return h
}

// Gain is the magnitude response at f Hz.
func (c Cascade) Gain(f, fs float64) float64 {
	return cmplx.Abs(c.Response(f, fs))
}

// steadyState returns per-section delay-line values for a unit step input,
// each scaled by the DC gain of the sections before it.
func (c Cascade) steadyState() [][2]float64 {
	zi := make([][2]float64, len(c))
	scale := 1.0
	for i, s := range c {
		k := (s.B[0] + s.B[1] + s.B[2]) / (1 + s.A[1] + s.A[2])
		z2 := s.B[2] - s.A[2]*k
		z1 := s.B[1] - s.A[1]*k + z2
		zi[i] = [2]float64{scale * z1, scale * z2}
		scale *= k
	}
	return zi
}

// filter runs the cascade forward (transposed direct form II) starting from
// the steady state for a constant input x0.
func (c Cascade) filter(x []float64, zi [][2]float64, x0 float64) []float64 {
	state := make([][2]float64, len(c))
	for i := range zi {
		state[i] = [2]float64{zi[i][0] * x0, zi[i][1] * x0}
	}

	y := make([]float64, len(x))
	for n, v := range x {
		for i, s := range c {
			out := s.B[0]*v + state[i][0]
			state[i][0] = s.B[1]*v - s.A[1]*out + state[i][1]
			state[i][1] = s.B[2]*v - s.A[2]*out
			v = out
		}
		y[n] = v
	}
	return y
}
