// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package detector implements the threshold blink trigger with a refractory
// cooldown.
package detector

import (
	"math"
	"time"

	"github.com/relabs-tech/blink_computer/internal/eeg"
)

type State int

const (
	Idle State = iota
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Detector emits at most one event per excursion above the threshold. After
// a trigger it ignores samples until the cooldown has elapsed and, when a
// re-arm factor is set, until |x| has dropped below factor*threshold.
//
// A Detector is not safe for concurrent use; the pipeline goroutine owns it.
type Detector struct {
	cooldown time.Duration
	rearm    float64

	threshold float64
	armed     bool

	state  State
	expiry time.Time
}

// New creates a disabled detector. rearm <= 0 means a pure dead-time.
func New(cooldown time.Duration, rearm float64) *Detector {
	return &Detector{
		cooldown: cooldown,
		rearm:    rearm,
	}
}

// SetThreshold installs a threshold and enables detection. Non-positive or
// non-finite values disable the detector instead.
func (d *Detector) SetThreshold(v float64) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		d.Disable()
		return
	}
	d.threshold = v
	d.armed = true
}

// Disable drops the threshold. A disabled detector stays idle.
func (d *Detector) Disable() {
	d.threshold = 0
	d.armed = false
	d.state = Idle
}

// Threshold reports the installed threshold and whether detection is enabled.
func (d *Detector) Threshold() (float64, bool) {
	return d.threshold, d.armed
}

func (d *Detector) SetCooldown(c time.Duration) { d.cooldown = c }

func (d *Detector) Cooldown() time.Duration { return d.cooldown }

func (d *Detector) State() State { return d.state }

// Reset returns to Idle without touching the threshold.
func (d *Detector) Reset() {
	d.state = Idle
	d.expiry = time.Time{}
}

// Feed processes one filtered sample; the sample timestamp is the clock.
func (d *Detector) Feed(s eeg.FilteredSample) (eeg.BlinkEvent, bool) {
	if !d.armed {
		return eeg.BlinkEvent{}, false
	}

	amp := math.Abs(s.Value)

	if d.state == Cooldown {
		if s.Time.Before(d.expiry) {
			return eeg.BlinkEvent{}, false
		}
		if d.rearm > 0 && amp >= d.rearm*d.threshold {
			return eeg.BlinkEvent{}, false
		}
		d.state = Idle
	}

	if amp <= d.threshold {
		return eeg.BlinkEvent{}, false
	}

	d.state = Cooldown
	d.expiry = s.Time.Add(d.cooldown)
	return eeg.BlinkEvent{
		Index:     s.Index,
		Time:      s.Time,
		Amplitude: amp,
	}, true
}
