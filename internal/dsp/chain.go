// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package dsp

import (
	"fmt"
)

// ChainConfig fixes the filter parameters at startup.
type ChainConfig struct {
	SampleRate float64
	MainsHz    float64 // 0 disables the notch
	NotchQ     float64
	LowHz      float64
	HighHz     float64
	Order      int
	MinSamples int // extra warm-up floor on top of the filter padding
}

// Chain removes the DC offset, then applies the mains notch and the band-pass,
// both zero-phase. Coefficients never change after construction, so Process
// is a pure function of its input.
type Chain struct {
	notch      Cascade
	bandpass   Cascade
	minSamples int
}

func NewChain(cfg ChainConfig) (*Chain, error) {
	c := &Chain{}

	if cfg.MainsHz > 0 {
		notch, err := DesignNotch(cfg.SampleRate, cfg.MainsHz, cfg.NotchQ)
		if err != nil {
			return nil, fmt.Errorf("notch: %w", err)
		}
		c.notch = notch
	}

	bp, err := DesignBandpass(cfg.Order, cfg.SampleRate, cfg.LowHz, cfg.HighHz)
	if err != nil {
		return nil, fmt.Errorf("band-pass: %w", err)
	}
	c.bandpass = bp

	c.minSamples = bp.PadLen() + 1
	if c.notch != nil && c.notch.PadLen()+1 > c.minSamples {
		c.minSamples = c.notch.PadLen() + 1
	}
	if cfg.MinSamples > c.minSamples {
		c.minSamples = cfg.MinSamples
	}
	return c, nil
}

// MinSamples is the shortest window Process accepts.
func (c *Chain) MinSamples() int { return c.minSamples }

func (c *Chain) Notch() Cascade    { return c.notch }
func (c *Chain) Bandpass() Cascade { return c.bandpass }

// Process filters the whole window. Only the last value is meant to be
// trusted downstream; earlier values shift slightly as the window slides.
func (c *Chain) Process(window []float64) ([]float64, error) {
	if len(window) < c.minSamples {
		return nil, fmt.Errorf("%d of %d samples: %w", len(window), c.minSamples, ErrNotReady)
	}

	med := Median(window)
	x := make([]float64, len(window))
	for i, v := range window {
		x[i] = v - med
	}

	var err error
	if c.notch != nil {
		if x, err = FiltFilt(c.notch, x); err != nil {
			return nil, err
		}
	}
	return FiltFilt(c.bandpass, x)
}
