// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"context"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

// SyntheticConfig shapes the generated signal. All amplitudes are microvolts.
type SyntheticConfig struct {
	SampleRate float64
	Offset     float64 // electrode DC offset
	NoiseUV    float64 // gaussian noise standard deviation
	MainsUV    float64
	MainsHz    float64
	DriftUV    float64 // slow 0.1 Hz wander
	BlinkUV    float64
	BlinkEvery time.Duration // 0 disables periodic blinks
	Reaction   time.Duration // delay from a blink cue to the blink peak
	Seed       int64
	Realtime   bool // pace frames at the sample rate
	Start      time.Time
}

// DefaultSynthetic is a plausible resting frontal recording. The simulated
// subject blinks only when cued.
func DefaultSynthetic(sampleRate, mainsHz float64) SyntheticConfig {
	return SyntheticConfig{
		SampleRate: sampleRate,
		Offset:     -1200,
		NoiseUV:    6,
		MainsUV:    40,
		MainsHz:    mainsHz,
		DriftUV:    60,
		BlinkUV:    220,
		Reaction:   300 * time.Millisecond,
		Seed:       1,
		Realtime:   true,
	}
}

const blinkWidth = 0.05 // gaussian sigma in seconds

// Synthetic generates a deterministic frontal EEG trace. It also acts as a
// calibration.Cue so cued blinks show up in the signal.
type Synthetic struct {
	cfg    SyntheticConfig
	rng    *rand.Rand
	period time.Duration
	start  time.Time
	timer  *time.Timer // used only by Next
	done   chan struct{}

	closeOnce sync.Once

	mu    sync.Mutex
	index int64
	cued  []int64 // peak indices of cued blinks
}

func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	start := cfg.Start
	if start.IsZero() {
		start = time.Now()
	}
	return &Synthetic{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		period: time.Duration(float64(time.Second) / cfg.SampleRate),
		start:  start,
		done:   make(chan struct{}),
	}
}

// BlinkIndices lists the tick indices of blink peaks below n.
func (s *Synthetic) BlinkIndices(n int64) []int64 {
	if s.cfg.BlinkEvery <= 0 {
		return nil
	}
	every := int64(s.cfg.BlinkEvery.Seconds() * s.cfg.SampleRate)
	var out []int64
	for i := every / 2; i < n; i += every {
		out = append(out, i)
	}
	return out
}

// Show schedules a blink Reaction after each blink cue.
func (s *Synthetic) Show(kind calibration.CueKind) {
	if kind != calibration.CueBlink {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	peak := s.index + int64(math.Round(s.cfg.Reaction.Seconds()*s.cfg.SampleRate))
	s.cued = append(s.cued, peak)
}

// Value returns the clean single-channel value at tick i without noise.
func (s *Synthetic) Value(i int64) float64 {
	t := float64(i) / s.cfg.SampleRate
	v := s.cfg.Offset
	v += s.cfg.MainsUV * math.Sin(2*math.Pi*s.cfg.MainsHz*t)
	v += s.cfg.DriftUV * math.Sin(2*math.Pi*0.1*t)

	if s.cfg.BlinkEvery > 0 {
		every := s.cfg.BlinkEvery.Seconds()
		v += s.blink(math.Mod(t, every) - every/2)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, peak := range s.cued {
		v += s.blink(float64(i-peak) / s.cfg.SampleRate)
	}
	return v
}

func (s *Synthetic) blink(dt float64) float64 {
	return s.cfg.BlinkUV * math.Exp(-dt*dt/(2*blinkWidth*blinkWidth))
}

// prune drops cued blinks that no longer contribute at tick i.
func (s *Synthetic) prune(i int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	horizon := int64(6 * blinkWidth * s.cfg.SampleRate)
	kept := s.cued[:0]
	for _, peak := range s.cued {
		if peak+horizon >= i {
			kept = append(kept, peak)
		}
	}
	s.cued = kept
}

// Next returns io.EOF once the source is closed, also while waiting for a
// realtime tick.
func (s *Synthetic) Next(ctx context.Context) (eeg.RawFrame, error) {
	select {
	case <-s.done:
		return eeg.RawFrame{}, io.EOF
	default:
	}

	s.mu.Lock()
	i := s.index
	s.mu.Unlock()
	at := s.start.Add(time.Duration(i) * s.period)

	if s.cfg.Realtime {
		if wait := time.Until(at); wait > 0 {
			if s.timer == nil {
				s.timer = time.NewTimer(wait)
			} else {
				s.timer.Reset(wait)
			}
			select {
			case <-ctx.Done():
				return eeg.RawFrame{}, ctx.Err()
			case <-s.done:
				return eeg.RawFrame{}, io.EOF
			case <-s.timer.C:
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return eeg.RawFrame{}, err
	}

	s.prune(i)
	clean := s.Value(i)
	f := eeg.RawFrame{
		Index: i,
		Time:  at,
		A:     clean + s.rng.NormFloat64()*s.cfg.NoiseUV,
		B:     clean + s.rng.NormFloat64()*s.cfg.NoiseUV,
	}

	s.mu.Lock()
	s.index++
	s.mu.Unlock()
	return f, nil
}

// Close may be called from any goroutine and more than once.
func (s *Synthetic) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
