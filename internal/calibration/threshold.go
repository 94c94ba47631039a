// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoSamples              = errors.New("no amplitude samples recorded")
	ErrInsufficientSeparation = errors.New("blink amplitude does not exceed noise amplitude")
	ErrInvalidCoefficient     = errors.New("trigger coefficient must lie in (0, 1)")
)

// Result holds the statistics a threshold was derived from.
type Result struct {
	NoiseMean    float64 `json:"noise_mean"`
	NoiseStdDev  float64 `json:"noise_stddev"`
	BlinkMean    float64 `json:"blink_mean"`
	BlinkStdDev  float64 `json:"blink_stddev"`
	Coefficient  float64 `json:"coefficient"`
	Threshold    float64 `json:"threshold"`
	NoiseSamples int     `json:"noise_samples"`
	BlinkSamples int     `json:"blink_samples"`
}

// Separation is the blink-to-noise amplitude ratio.
func (r Result) Separation() float64 {
	if r.NoiseMean == 0 {
		return math.Inf(1)
	}
	return r.BlinkMean / r.NoiseMean
}

// ComputeThreshold places the threshold at coeff of the way from the mean
// noise amplitude to the mean blink amplitude.
func ComputeThreshold(noise, blink []float64, coeff float64) (Result, error) {
	if coeff <= 0 || coeff >= 1 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidCoefficient, coeff)
	}
	if len(noise) == 0 || len(blink) == 0 {
		return Result{}, fmt.Errorf("%d noise, %d blink: %w", len(noise), len(blink), ErrNoSamples)
	}

	r := Result{
		NoiseMean:    stat.Mean(noise, nil),
		NoiseStdDev:  stddev(noise),
		BlinkMean:    stat.Mean(blink, nil),
		BlinkStdDev:  stddev(blink),
		Coefficient:  coeff,
		NoiseSamples: len(noise),
		BlinkSamples: len(blink),
	}
	if !(r.BlinkMean > r.NoiseMean) {
		return r, fmt.Errorf("blink mean %.2f, noise mean %.2f: %w", r.BlinkMean, r.NoiseMean, ErrInsufficientSeparation)
	}

	r.Threshold = r.NoiseMean + coeff*(r.BlinkMean-r.NoiseMean)
	return r, nil
}

func stddev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return stat.StdDev(x, nil)
}
