// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package eval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/store"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func sec(s float64) time.Time { return t0.Add(time.Duration(s * float64(time.Second))) }

func TestScoreMatchesEventsToCues(t *testing.T) {
	cues := []time.Time{sec(5), sec(10), sec(15)}
	events := []time.Time{
		sec(5.4),  // hit
		sec(7),    // false alarm
		sec(10.2), // hit
		sec(10.5), // second blink in the same window counts as a false alarm
	}
	r := Score(events, cues, 1500*time.Millisecond)
	assert.Equal(t, 2, r.TP)
	assert.Equal(t, 2, r.FP)
	assert.Equal(t, 1, r.FN)
	assert.InDelta(t, 0.5, r.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.Recall, 1e-9)
	assert.InDelta(t, 2*0.5*(2.0/3.0)/(0.5+2.0/3.0), r.F1, 1e-9)
}

func TestScoreIgnoresEventsBeforeCue(t *testing.T) {
	r := Score([]time.Time{sec(4.9)}, []time.Time{sec(5)}, time.Second)
	assert.Equal(t, Result{TP: 0, FP: 1, FN: 1}, r)
}

func TestScoreUnsortedInput(t *testing.T) {
	r := Score([]time.Time{sec(10.1), sec(5.1)}, []time.Time{sec(10), sec(5)}, time.Second)
	assert.Equal(t, 2, r.TP)
	assert.Equal(t, 1.0, r.F1)
}

func TestNewResultEmpty(t *testing.T) {
	assert.Equal(t, Result{}, NewResult(0, 0, 0))
}

type cueLog []calibration.CueKind

func (c *cueLog) Show(k calibration.CueKind) { *c = append(*c, k) }

func TestRunnerClassifiesWindows(t *testing.T) {
	st := store.New(4)
	st.PublishEvent(eeg.BlinkEvent{}) // predates the run

	var cues cueLog
	r := NewRunner(Schedule{Cues: 3, Relax: 3500 * time.Millisecond, Blink: 1500 * time.Millisecond}, &cues)
	require.NoError(t, r.Begin(sec(0), st.Snapshot()))
	assert.ErrorIs(t, r.Begin(sec(0), st.Snapshot()), ErrRunning)

	step := func(s float64) { r.Observe(sec(s), st.Snapshot()) }

	// Cue 1: clean relax, blink answered.
	step(1)
	step(3.5)
	assert.Equal(t, PhaseBlink, r.Status().Phase)
	st.PublishEvent(eeg.BlinkEvent{})
	step(4)
	step(5)

	// Cue 2: blink during relax, blink answered.
	step(6)
	st.PublishEvent(eeg.BlinkEvent{})
	step(7)
	step(8.5)
	st.PublishEvent(eeg.BlinkEvent{})
	step(9)
	step(10)

	// Cue 3: missed.
	step(13.5)
	step(15)

	s := r.Status()
	assert.False(t, s.Active)
	assert.Equal(t, PhaseFinished, s.Phase)
	assert.Equal(t, 3, s.Progress)
	assert.Equal(t, 2, s.Result.TP)
	assert.Equal(t, 1, s.Result.FP)
	assert.Equal(t, 1, s.Result.FN)
	assert.Len(t, s.CueTimes, 3)

	assert.Equal(t, calibration.CueRelax, cues[0])
	assert.Equal(t, calibration.CueBlink, cues[1])
	assert.Equal(t, calibration.CueOff, cues[len(cues)-1])
}

func TestRunnerCancel(t *testing.T) {
	st := store.New(4)
	r := NewRunner(Schedule{Cues: 12, Relax: time.Hour, Blink: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, st, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseCanceled, r.Status().Phase)
	assert.False(t, r.Status().Active)
}

func TestScheduleDuration(t *testing.T) {
	s := Schedule{Cues: 12, Relax: 3500 * time.Millisecond, Blink: 1500 * time.Millisecond}
	assert.Equal(t, time.Minute, s.Duration())
}
