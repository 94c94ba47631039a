// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestPublishEventAssignsCounter(t *testing.T) {
	s := New(10)
	_, fresh := s.Poll(0)
	assert.False(t, fresh)

	ev := s.PublishEvent(eeg.BlinkEvent{Index: 5, Time: t0})
	assert.Equal(t, uint64(1), ev.Counter)
	ev = s.PublishEvent(eeg.BlinkEvent{Index: 90, Time: t0.Add(time.Second)})
	assert.Equal(t, uint64(2), ev.Counter)

	snap, fresh := s.Poll(1)
	require.True(t, fresh)
	assert.Equal(t, uint64(2), snap.EventCount)
	assert.Equal(t, int64(90), snap.LastEvent.Index)
	assert.Equal(t, snap.EventCount, snap.LastEvent.Counter)

	_, fresh = s.Poll(2)
	assert.False(t, fresh)
}

func TestSnapshotCarriesAllFields(t *testing.T) {
	s := New(10)
	s.PublishSample(eeg.FilteredSample{Index: 3, Time: t0, Value: -12})
	s.SetThreshold(62, true)
	s.SetCooldown(300 * time.Millisecond)
	s.SetCalibration(calibration.Status{Phase: calibration.PhaseValidation})
	s.SetMainsRatio(0.25)
	s.AddDropped(2)

	snap := s.Snapshot()
	assert.True(t, snap.HaveSample)
	assert.Equal(t, -12.0, snap.Latest.Value)
	assert.Equal(t, 62.0, snap.Threshold)
	assert.True(t, snap.Armed)
	assert.True(t, snap.Detecting)
	assert.Equal(t, 300*time.Millisecond, snap.Cooldown)
	assert.Equal(t, calibration.PhaseValidation, snap.Calibration.Phase)
	assert.Equal(t, 0.25, snap.MainsRatio)
	assert.Equal(t, uint64(2), snap.Dropped)
}

func TestSignalDecimation(t *testing.T) {
	s := New(2500)
	for i := 0; i < 2500; i++ {
		s.PublishSample(eeg.FilteredSample{Index: int64(i), Value: float64(i)})
	}
	full := s.Signal(0)
	assert.Len(t, full, 2500)

	pts := s.Signal(1000)
	assert.LessOrEqual(t, len(pts), 1000)
	assert.Equal(t, 0.0, pts[0])
	assert.Equal(t, 3.0, pts[1])
}

// Readers must never see a counter without its matching event.
func TestConcurrentReadersSeeConsistentEvents(t *testing.T) {
	s := New(10)
	var wg sync.WaitGroup
	done := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				snap := s.Snapshot()
				if snap.EventCount > 0 {
					assert.Equal(t, snap.EventCount, snap.LastEvent.Counter)
					assert.Equal(t, int64(snap.EventCount), snap.LastEvent.Index)
				}
			}
		}()
	}

	for i := 1; i <= 2000; i++ {
		s.PublishEvent(eeg.BlinkEvent{Index: int64(i), Time: t0.Add(time.Duration(i) * time.Millisecond)})
	}
	close(done)
	wg.Wait()
}
