// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package eval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/store"
)

var ErrRunning = errors.New("evaluation already running")

// Schedule is the cue protocol: Cues rounds of a relax window followed by a
// blink window.
type Schedule struct {
	Cues  int
	Relax time.Duration
	Blink time.Duration
}

func (s Schedule) Duration() time.Duration {
	return time.Duration(s.Cues) * (s.Relax + s.Blink)
}

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRelax    Phase = "relax"
	PhaseBlink    Phase = "blink"
	PhaseFinished Phase = "finished"
	PhaseCanceled Phase = "canceled"
)

// Status is the live view of a run.
type Status struct {
	Active    bool        `json:"active"`
	Phase     Phase       `json:"phase"`
	Progress  int         `json:"progress"` // completed cues
	Cues      int         `json:"total_cues"`
	Result    Result      `json:"result"`
	CueTimes  []time.Time `json:"cue_times,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

// Runner classifies blink windows as hit or miss and relax windows as clean
// or false alarm, polling the store by event counter.
type Runner struct {
	sched Schedule
	cue   calibration.Cue

	mu         sync.Mutex
	status     Status
	phaseStart time.Time
	lastSeen   uint64
	hit        bool
	tp, fp, fn int
}

func NewRunner(sched Schedule, cue calibration.Cue) *Runner {
	return &Runner{
		sched:  sched,
		cue:    cue,
		status: Status{Phase: PhaseIdle, Cues: sched.Cues},
	}
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.status
	st.CueTimes = append([]time.Time(nil), r.status.CueTimes...)
	return st
}

// Begin starts a run at now. Events already in the store are ignored.
func (r *Runner) Begin(now time.Time, snap store.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Active {
		return ErrRunning
	}
	r.status = Status{
		Active:    true,
		Phase:     PhaseRelax,
		Cues:      r.sched.Cues,
		StartedAt: now,
	}
	r.tp, r.fp, r.fn = 0, 0, 0
	r.phaseStart = now
	r.lastSeen = snap.EventCount
	r.hit = false
	r.show(calibration.CueRelax)
	return nil
}

// Observe advances the run with the current time and store snapshot.
func (r *Runner) Observe(now time.Time, snap store.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Active {
		return
	}

	if snap.EventCount > r.lastSeen {
		r.hit = true
		r.lastSeen = snap.EventCount
	}
	elapsed := now.Sub(r.phaseStart)

	switch r.status.Phase {
	case PhaseRelax:
		if elapsed < r.sched.Relax {
			return
		}
		if r.hit {
			r.fp++
		}
		r.status.Phase = PhaseBlink
		r.status.CueTimes = append(r.status.CueTimes, now)
		r.show(calibration.CueBlink)

	case PhaseBlink:
		if elapsed < r.sched.Blink {
			return
		}
		if r.hit {
			r.tp++
		} else {
			r.fn++
		}
		r.status.Progress++
		if r.status.Progress >= r.sched.Cues {
			r.status.Active = false
			r.status.Phase = PhaseFinished
			r.show(calibration.CueOff)
		} else {
			r.status.Phase = PhaseRelax
			r.show(calibration.CueRelax)
		}
	}

	r.phaseStart = now
	r.hit = false
	r.status.Result = NewResult(r.tp, r.fp, r.fn)
}

// Cancel stops an active run, keeping the partial result.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.status.Active {
		return
	}
	r.status.Active = false
	r.status.Phase = PhaseCanceled
	r.show(calibration.CueOff)
}

// Run executes a full schedule against the store, polling every interval.
func (r *Runner) Run(ctx context.Context, st *store.Store, interval time.Duration) (Result, error) {
	if err := r.Begin(time.Now(), st.Snapshot()); err != nil {
		return Result{}, err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Cancel()
			return r.Status().Result, ctx.Err()
		case now := <-ticker.C:
			r.Observe(now, st.Snapshot())
			if s := r.Status(); !s.Active {
				return s.Result, nil
			}
		}
	}
}

func (r *Runner) show(kind calibration.CueKind) {
	if r.cue != nil {
		r.cue.Show(kind)
	}
}
