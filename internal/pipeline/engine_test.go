// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pipeline

import (
	"context"
	"io"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/blink_computer/internal/acquisition"
	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/ingest"
	"github.com/relabs-tech/blink_computer/internal/store"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// blinkTrace is a DC-offset recording with gaussian blinks at the given
// tick indices and 2 uV gaussian channel noise.
func blinkTrace(n int, amp float64, blinks []int) []eeg.RawFrame {
	return noisyTrace(n, amp, blinks, func(rng *rand.Rand) float64 { return rng.NormFloat64() * 2 })
}

func noisyTrace(n int, amp float64, blinks []int, noise func(*rand.Rand) float64) []eeg.RawFrame {
	rng := rand.New(rand.NewSource(7))
	frames := make([]eeg.RawFrame, n)
	for i := range frames {
		v := -1200.0
		for _, b := range blinks {
			dt := float64(i-b) / 250
			v += amp * math.Exp(-dt*dt/(2*0.05*0.05))
		}
		frames[i] = eeg.RawFrame{
			Index: int64(i),
			Time:  epoch.Add(time.Duration(i) * 4 * time.Millisecond),
			A:     v + noise(rng),
			B:     v + noise(rng),
		}
	}
	return frames
}

func newEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *store.Store) {
	t.Helper()
	st := store.New(cfg.WindowSamples())
	e, err := New(cfg, st, opts...)
	require.NoError(t, err)
	return e, st
}

func TestEngineDetectsBlinks(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 15
	cfg.CooldownMS = 500

	var handled []eeg.BlinkEvent
	e, st := newEngine(t, cfg, WithBlinkHandler(func(ev eeg.BlinkEvent) {
		handled = append(handled, ev)
	}))

	blinks := []int{750, 1500, 2250}
	for _, f := range blinkTrace(2500, 200, blinks) {
		require.NoError(t, e.Step(f))
	}

	snap := st.Snapshot()
	require.Equal(t, uint64(3), snap.EventCount)
	require.Len(t, handled, 3)
	for i, ev := range handled {
		assert.Equal(t, uint64(i+1), ev.Counter)
		assertLeadsBlink(t, blinks[i], ev.Index)
	}
	assert.Equal(t, handled[2], snap.LastEvent)
	assert.True(t, snap.Armed)
	assert.Equal(t, 15.0, snap.Threshold)
}

// assertLeadsBlink pins where the newest-sample output first crosses the
// threshold: the rising lobe of the zero-phase response reaches 15 uV two to
// three ticks before the centre of a 200 uV blink. The larger opposite lobe
// about 40 ticks later falls inside the cooldown.
func assertLeadsBlink(t *testing.T, blink int, index int64) {
	t.Helper()
	offset := index - int64(blink)
	assert.GreaterOrEqual(t, offset, int64(-4), "event at %d for blink at %d", index, blink)
	assert.LessOrEqual(t, offset, int64(-1), "event at %d for blink at %d", index, blink)
}

func TestEngineTwoBlinksInUniformNoise(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 15
	cfg.CooldownMS = 300

	var events []eeg.BlinkEvent
	e, st := newEngine(t, cfg, WithBlinkHandler(func(ev eeg.BlinkEvent) {
		events = append(events, ev)
	}))

	blinks := []int{300, 700}
	uniform := func(rng *rand.Rand) float64 { return rng.Float64()*10 - 5 }
	for _, f := range noisyTrace(1000, 200, blinks, uniform) {
		require.NoError(t, e.Step(f))
	}

	require.Len(t, events, 2)
	for i, ev := range events {
		assertLeadsBlink(t, blinks[i], ev.Index)
	}
	assert.Equal(t, uint64(2), st.Snapshot().EventCount)
}

func TestEngineWarmup(t *testing.T) {
	cfg := config.Default()
	e, st := newEngine(t, cfg)

	frames := blinkTrace(300, 0, nil)
	for _, f := range frames[:249] {
		require.NoError(t, e.Step(f))
	}
	assert.False(t, st.Snapshot().HaveSample)

	require.NoError(t, e.Step(frames[249]))
	snap := st.Snapshot()
	assert.True(t, snap.HaveSample)
	assert.Equal(t, int64(249), snap.Latest.Index)
	assert.Less(t, math.Abs(snap.Latest.Value), 5.0)
}

func TestEngineDropsBadFrames(t *testing.T) {
	cfg := config.Default()
	e, st := newEngine(t, cfg)

	frames := blinkTrace(3, 0, nil)
	require.NoError(t, e.Step(frames[0]))
	require.NoError(t, e.Step(frames[1]))

	assert.ErrorIs(t, e.Step(frames[1]), ingest.ErrOutOfOrder)

	bad := frames[2]
	bad.A = math.NaN()
	assert.ErrorIs(t, e.Step(bad), ingest.ErrNonFinite)

	bad.A = 1e9
	assert.ErrorIs(t, e.Step(bad), ingest.ErrOutOfRange)

	require.NoError(t, e.Step(frames[2]))
	assert.Equal(t, uint64(3), st.Snapshot().Dropped)
}

func TestEngineSettings(t *testing.T) {
	cfg := config.Default()
	e, st := newEngine(t, cfg)
	assert.False(t, st.Snapshot().Armed)

	th, cd := 42.0, 0.25
	require.NoError(t, e.UpdateSettings(Settings{ThresholdUV: &th, CooldownSecs: &cd}))
	snap := st.Snapshot()
	assert.True(t, snap.Armed)
	assert.Equal(t, 42.0, snap.Threshold)
	assert.Equal(t, 250*time.Millisecond, snap.Cooldown)

	neg, zero := -1.0, 0.0
	assert.Error(t, e.UpdateSettings(Settings{CooldownSecs: &neg}))
	assert.Error(t, e.UpdateSettings(Settings{CooldownSecs: &zero}))
	assert.Equal(t, 250*time.Millisecond, st.Snapshot().Cooldown)
	require.NoError(t, e.UpdateSettings(Settings{ThresholdUV: &neg}))
	assert.False(t, st.Snapshot().Armed)
}

func TestEnginePausedDetection(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 15
	e, st := newEngine(t, cfg)

	e.SetDetecting(false)
	for _, f := range blinkTrace(1000, 200, []int{750}) {
		require.NoError(t, e.Step(f))
	}
	snap := st.Snapshot()
	assert.False(t, snap.Detecting)
	assert.Zero(t, snap.EventCount)
	assert.True(t, snap.Armed)
}

func TestEngineCalibrationCommitsThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 500

	synCfg := acquisition.DefaultSynthetic(cfg.SampleRate, cfg.MainsHz)
	synCfg.Realtime = false
	synCfg.Start = epoch
	synCfg.NoiseUV = 2
	synCfg.DriftUV = 0
	syn := acquisition.NewSynthetic(synCfg)

	// The wall clock follows the sample clock so timeouts never fire.
	var now time.Time
	var statuses []calibration.Status
	e, st := newEngine(t, cfg,
		WithCue(syn),
		WithClock(func() time.Time { return now }),
		WithStatusHook(func(s calibration.Status) { statuses = append(statuses, s) }),
	)

	ctx := context.Background()
	step := func() {
		f, err := syn.Next(ctx)
		require.NoError(t, err)
		now = f.Time
		require.NoError(t, e.Step(f))
	}
	for i := 0; i < 300; i++ {
		step()
	}

	id, err := e.StartCalibration()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.ErrorIs(t, e.UpdateSettings(Settings{}), ErrCalibrating)

	for i := 0; i < 10000 && e.CalibrationStatus().Phase.Active(); i++ {
		step()
	}

	status := e.CalibrationStatus()
	require.Equal(t, calibration.PhaseDone, status.Phase, "reason %s: %s", status.Reason, status.Message)
	require.NotNil(t, status.Result)
	res := status.Result
	assert.Greater(t, res.BlinkMean, res.NoiseMean)
	assert.InDelta(t, res.NoiseMean+0.6*(res.BlinkMean-res.NoiseMean), res.Threshold, 1e-9)

	snap := st.Snapshot()
	assert.True(t, snap.Armed)
	assert.Equal(t, res.Threshold, snap.Threshold)
	assert.Equal(t, calibration.PhaseDone, snap.Calibration.Phase)
	assert.Zero(t, snap.EventCount, "cued blinks never reach the live detector")
	assert.Equal(t, calibration.PhaseDone, statuses[len(statuses)-1].Phase)
}

func TestEngineAbortKeepsThreshold(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 80
	e, st := newEngine(t, cfg)

	_, err := e.StartCalibration()
	require.NoError(t, err)
	_, err = e.StartCalibration()
	assert.ErrorIs(t, err, calibration.ErrBusy)

	assert.True(t, e.AbortCalibration())
	assert.False(t, e.AbortCalibration())

	snap := st.Snapshot()
	assert.Equal(t, 80.0, snap.Threshold)
	assert.Equal(t, calibration.PhaseAborted, snap.Calibration.Phase)
	assert.Equal(t, calibration.ReasonUserAbort, snap.Calibration.Reason)
}

func TestEngineRunReplay(t *testing.T) {
	cfg := config.Default()
	cfg.InitialThresholdUV = 15
	e, st := newEngine(t, cfg)

	src := &sliceSource{frames: blinkTrace(1200, 200, []int{750})}
	require.NoError(t, e.Run(context.Background(), src))
	assert.Equal(t, uint64(1), st.Snapshot().EventCount)
}

type sliceSource struct {
	frames []eeg.RawFrame
	pos    int
}

func (s *sliceSource) Next(ctx context.Context) (eeg.RawFrame, error) {
	if s.pos >= len(s.frames) {
		return eeg.RawFrame{}, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }
