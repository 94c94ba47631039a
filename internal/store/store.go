// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store holds the state shared between the pipeline goroutine and
// its consumers. Every read is a complete snapshot taken under one lock.
package store

import (
	"sync"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/ringbuf"
)

// Snapshot is a consistent copy of the shared state.
type Snapshot struct {
	Latest     eeg.FilteredSample `json:"latest"`
	HaveSample bool               `json:"have_sample"`

	LastEvent  eeg.BlinkEvent `json:"last_event"`
	EventCount uint64         `json:"event_count"`

	Threshold float64       `json:"threshold"`
	Armed     bool          `json:"armed"`
	Cooldown  time.Duration `json:"cooldown"`
	Detecting bool          `json:"detecting"`

	Calibration calibration.Status `json:"calibration"`

	MainsRatio float64 `json:"mains_ratio"`
	Dropped    uint64  `json:"dropped"`
}

// Store is the single shared-mutable object of the process.
type Store struct {
	mu     sync.RWMutex
	snap   Snapshot
	signal *ringbuf.Ring[float64]
}

// New creates a store keeping signalCapacity filtered values for charting.
func New(signalCapacity int) *Store {
	return &Store{
		signal: ringbuf.New[float64](signalCapacity),
		snap:   Snapshot{Detecting: true},
	}
}

// PublishSample records the newest filtered sample.
func (s *Store) PublishSample(fs eeg.FilteredSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Latest = fs
	s.snap.HaveSample = true
	s.signal.Push(fs.Value)
}

// PublishEvent records a blink and assigns it the next counter value. The
// event and counter change together.
func (s *Store) PublishEvent(ev eeg.BlinkEvent) eeg.BlinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.EventCount++
	ev.Counter = s.snap.EventCount
	s.snap.LastEvent = ev
	return ev
}

func (s *Store) SetThreshold(v float64, armed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Threshold = v
	s.snap.Armed = armed
}

func (s *Store) SetCooldown(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Cooldown = d
}

func (s *Store) SetDetecting(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Detecting = on
}

// SetCalibration implements calibration.StatusSink.
func (s *Store) SetCalibration(st calibration.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Calibration = st
}

func (s *Store) SetMainsRatio(r float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MainsRatio = r
}

func (s *Store) AddDropped(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Dropped += n
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Poll returns the current snapshot and whether an event newer than
// lastSeen has been published.
func (s *Store) Poll(lastSeen uint64) (Snapshot, bool) {
	snap := s.Snapshot()
	return snap, snap.EventCount > lastSeen
}

// Signal returns the recent filtered series, decimated by a fixed stride to
// at most maxPoints values. maxPoints <= 0 returns everything.
func (s *Store) Signal(maxPoints int) []float64 {
	s.mu.RLock()
	values := s.signal.Values()
	s.mu.RUnlock()

	if maxPoints <= 0 || len(values) <= maxPoints {
		return values
	}
	step := (len(values) + maxPoints - 1) / maxPoints
	out := make([]float64, 0, maxPoints)
	for i := 0; i < len(values); i += step {
		out = append(out, values[i])
	}
	return out
}
