// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

var ErrDesign = errors.New("invalid filter design")

// DesignNotch returns a second-order notch at f0 Hz with quality factor q.
// Coefficients follow the usual RBJ-style narrow band-stop with unit DC gain.
func DesignNotch(fs, f0, q float64) (Cascade, error) {
	nyq := fs / 2
	if f0 <= 0 || f0 >= nyq {
		return nil, fmt.Errorf("%w: notch %.2f Hz outside (0, %.2f)", ErrDesign, f0, nyq)
	}
	if q <= 0 {
		return nil, fmt.Errorf("%w: notch Q must be positive", ErrDesign)
	}

	w0 := f0 / nyq
	bw := w0 / q * math.Pi
	w0 *= math.Pi

	beta := math.Tan(bw / 2)
	gain := 1 / (1 + beta)
	cosw := math.Cos(w0)

	return Cascade{{
		B: [3]float64{gain, -2 * gain * cosw, gain},
		A: [3]float64{1, -2 * gain * cosw, 2*gain - 1},
	}}, nil
}

// DesignBandpass returns a Butterworth band-pass of the given (even) prototype
// order as order second-order sections, with unit gain at the geometric centre.
func DesignBandpass(order int, fs, low, high float64) (Cascade, error) {
	if order < 2 || order%2 != 0 {
		return nil, fmt.Errorf("%w: band-pass order %d must be even and >= 2", ErrDesign, order)
	}
	if low <= 0 || high <= low || high >= fs/2 {
		return nil, fmt.Errorf("%w: band %.2f-%.2f Hz invalid for fs %.2f", ErrDesign, low, high, fs)
	}

	// Prewarp the band edges for the bilinear transform.
	wl := 2 * fs * math.Tan(math.Pi*low/fs)
	wh := 2 * fs * math.Tan(math.Pi*high/fs)
	bw := wh - wl
	w0 := math.Sqrt(wl * wh)

	c := make(Cascade, 0, order)
	for k := 0; k < order; k++ {
		p := cmplx.Exp(complex(0, math.Pi*float64(2*k+order+1)/float64(2*order)))
		if imag(p) <= 0 {
			continue
		}
		// Low-pass to band-pass: each prototype pole splits in two.
		half := p * complex(bw/2, 0)
		d := cmplx.Sqrt(half*half - complex(w0*w0, 0))
		for _, s := range []complex128{half + d, half - d} {
			z := bilinear(s, fs)
			c = append(c, Section{
				B: [3]float64{1, 0, -1},
				A: [3]float64{1, -2 * real(z), real(z)*real(z) + imag(z)*imag(z)},
			})
		}
	}

	centre := fs / math.Pi * math.Atan(w0/(2*fs))
	g := c.Gain(centre, fs)
	if g == 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return nil, fmt.Errorf("%w: degenerate band-pass gain", ErrDesign)
	}
	for i := range c[0].B {
		c[0].B[i] /= g
	}
	return c, nil
}

func bilinear(s complex128, fs float64) complex128 {
	k := complex(2*fs, 0)
	return (k + s) / (k - s)
}
