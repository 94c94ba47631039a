// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package ingest turns raw two-channel frames into the averaged sample series
// and keeps the sliding window the preprocessing chain runs over.
package ingest

import (
	"errors"
	"fmt"
	"math"

	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/ringbuf"
)

var (
	ErrNonFinite  = errors.New("non-finite channel value")
	ErrOutOfRange = errors.New("channel value out of range")
	ErrOutOfOrder = errors.New("frame not newer than window tail")
)

// Window is the bounded, time-ordered series of the most recent samples.
type Window struct {
	ring *ringbuf.Ring[eeg.Sample]
}

func NewWindow(capacity int) *Window {
	return &Window{ring: ringbuf.New[eeg.Sample](capacity)}
}

func (w *Window) Len() int { return w.ring.Len() }
func (w *Window) Cap() int { return w.ring.Cap() }

// Last returns the newest sample.
func (w *Window) Last() (eeg.Sample, bool) { return w.ring.Last() }

// Samples returns a copy of the window, oldest first.
func (w *Window) Samples() []eeg.Sample { return w.ring.Values() }

// Values returns the sample values, oldest first.
func (w *Window) Values() []float64 {
	samples := w.ring.Values()
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Value
	}
	return out
}

func (w *Window) Reset() { w.ring.Reset() }

// Ingestor averages the two frontal channels and appends to the window.
// It is owned by the pipeline goroutine.
type Ingestor struct {
	window *Window
	maxAbs float64
}

// NewIngestor creates an ingestor with a window of the given capacity.
// maxAbs bounds accepted channel values; zero disables the check.
func NewIngestor(capacity int, maxAbs float64) *Ingestor {
	return &Ingestor{
		window: NewWindow(capacity),
		maxAbs: maxAbs,
	}
}

func (in *Ingestor) Window() *Window { return in.window }

// Ingest validates the frame and appends its channel average. A rejected
// frame leaves the window untouched.
func (in *Ingestor) Ingest(f eeg.RawFrame) (eeg.Sample, error) {
	if !isFinite(f.A) || !isFinite(f.B) {
		return eeg.Sample{}, fmt.Errorf("tick %d: %w", f.Index, ErrNonFinite)
	}
	if in.maxAbs > 0 && (math.Abs(f.A) > in.maxAbs || math.Abs(f.B) > in.maxAbs) {
		return eeg.Sample{}, fmt.Errorf("tick %d: %w", f.Index, ErrOutOfRange)
	}
	if last, ok := in.window.Last(); ok {
		if f.Index <= last.Index || !f.Time.After(last.Time) {
			return eeg.Sample{}, fmt.Errorf("tick %d after %d: %w", f.Index, last.Index, ErrOutOfOrder)
		}
	}

	s := eeg.Sample{
		Index: f.Index,
		Time:  f.Time,
		Value: (f.A + f.B) / 2,
	}
	in.window.ring.Push(s)
	return s, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
