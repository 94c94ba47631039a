// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package dsp

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// BandPower returns the one-sided power of x between lo and hi Hz.
func BandPower(x []float64, fs, lo, hi float64) float64 {
	n := len(x)
	if n == 0 {
		return 0
	}
	spec := fft.FFTReal(x)
	norm := float64(n) * float64(n)

	var p float64
	for k := 0; k <= n/2; k++ {
		f := float64(k) * fs / float64(n)
		if f < lo || f > hi {
			continue
		}
		mag := cmplx.Abs(spec[k])
		if k == 0 || (n%2 == 0 && k == n/2) {
			p += mag * mag / norm
		} else {
			p += 2 * mag * mag / norm
		}
	}
	return p
}

// MainsRatio is the fraction of signal power within 2 Hz of the mains
// frequency. Values near 1 point at bad electrode contact.
func MainsRatio(x []float64, fs, mains float64) float64 {
	if mains <= 0 || len(x) == 0 {
		return 0
	}
	centred := make([]float64, len(x))
	med := Median(x)
	for i, v := range x {
		centred[i] = v - med
	}
	total := BandPower(centred, fs, 0.5, fs/2)
	if total == 0 {
		return 0
	}
	return BandPower(centred, fs, mains-2, mains+2) / total
}
