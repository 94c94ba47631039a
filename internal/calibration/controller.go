// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package calibration runs the guided baseline / cued-blink / validation
// procedure that derives a per-user detection threshold.
package calibration

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/blink_computer/internal/detector"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

var ErrBusy = errors.New("calibration already in progress")

// Config fixes the procedure timing.
type Config struct {
	Baseline       time.Duration // relaxed capture
	CueRest        time.Duration // pause before each blink cue
	ResponseWindow time.Duration // window after the cue searched for the peak
	Repetitions    int
	Validation     time.Duration // at-rest trial run with the new threshold
	MaxRetries     int
	PhaseTimeout   time.Duration // wall-clock bound per phase
	Coefficient    float64
	Cooldown       time.Duration // trial detector cooldown
	Rearm          float64
}

func (c Config) Validate() error {
	switch {
	case c.Baseline <= 0, c.CueRest <= 0, c.ResponseWindow <= 0, c.Validation <= 0:
		return fmt.Errorf("calibration durations must be positive")
	case c.Repetitions < 1:
		return fmt.Errorf("calibration repetitions must be >= 1")
	case c.MaxRetries < 0:
		return fmt.Errorf("calibration retries must be >= 0")
	case c.Coefficient <= 0 || c.Coefficient >= 1:
		return fmt.Errorf("%w: %v", ErrInvalidCoefficient, c.Coefficient)
	case c.PhaseTimeout <= c.longestPhase():
		return fmt.Errorf("phase timeout %s must exceed the longest phase (%s)", c.PhaseTimeout, c.longestPhase())
	}
	return nil
}

func (c Config) longestPhase() time.Duration {
	cued := time.Duration(c.Repetitions) * (c.CueRest + c.ResponseWindow)
	return max(c.Baseline, cued, c.Validation)
}

// ThresholdSetter receives the committed threshold.
type ThresholdSetter interface {
	SetThreshold(v float64)
}

// StatusSink receives every status change.
type StatusSink interface {
	SetCalibration(s Status)
}

type Option func(*Controller)

func WithCue(c Cue) Option { return func(ctl *Controller) { ctl.cue = c } }

func WithSink(s StatusSink) Option { return func(ctl *Controller) { ctl.sink = s } }

// WithClock replaces the wall clock used for phase timeouts.
func WithClock(now func() time.Time) Option { return func(ctl *Controller) { ctl.now = now } }

// Controller is driven by the pipeline goroutine: Feed with every filtered
// sample, Tick periodically for timeouts. Sample progress is measured on
// sample timestamps, timeouts on the wall clock.
type Controller struct {
	cfg  Config
	live ThresholdSetter
	cue  Cue
	sink StatusSink
	now  func() time.Time

	status Status
	noise  []float64
	blinks []float64
	result Result

	phaseStart time.Time // sample time of the first sample in the phase
	phaseWall  time.Time // wall time the phase was entered

	rep      int
	restFrom time.Time
	cueAt    time.Time
	repPeak  float64

	trial *detector.Detector
}

func NewController(cfg Config, live ThresholdSetter, opts ...Option) *Controller {
	c := &Controller{
		cfg:  cfg,
		live: live,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Repetitions = cfg.Repetitions
	return c
}

func (c *Controller) Status() Status { return c.status }

func (c *Controller) Active() bool { return c.status.Phase.Active() }

// Start opens a new session and returns its id.
func (c *Controller) Start() (string, error) {
	if c.Active() {
		return "", ErrBusy
	}

	now := c.now()
	c.status = Status{
		SessionID:   uuid.New().String(),
		Round:       1,
		Repetitions: c.cfg.Repetitions,
		StartedAt:   now,
	}
	c.result = Result{}
	c.resetRound()
	slog.Info("calibration: session started", "session", c.status.SessionID)
	c.enter(PhaseBaseline)
	return c.status.SessionID, nil
}

// Abort ends the session without touching the live threshold. It reports
// false when no session is active.
func (c *Controller) Abort(reason Reason) bool {
	if !c.Active() {
		return false
	}
	c.abort(reason, "")
	return true
}

// Tick enforces the per-phase wall-clock timeout.
func (c *Controller) Tick() {
	if !c.Active() {
		return
	}
	if elapsed := c.now().Sub(c.phaseWall); elapsed > c.cfg.PhaseTimeout {
		c.abort(ReasonTimeout, fmt.Sprintf("%s exceeded %s", c.status.Phase, c.cfg.PhaseTimeout))
	}
}

// Feed advances the active phase with one filtered sample.
func (c *Controller) Feed(s eeg.FilteredSample) {
	if !c.Active() {
		return
	}
	if c.phaseStart.IsZero() {
		c.phaseStart = s.Time
	}
	amp := math.Abs(s.Value)

	switch c.status.Phase {
	case PhaseBaseline:
		c.noise = append(c.noise, amp)
		elapsed := s.Time.Sub(c.phaseStart)
		if elapsed >= c.cfg.Baseline {
			c.enter(PhaseCuedBlink)
			c.restFrom = s.Time
			return
		}
		c.progress(float64(elapsed) / float64(c.cfg.Baseline))

	case PhaseCuedBlink:
		c.feedCued(s.Time, amp)

	case PhaseValidation:
		if ev, ok := c.trial.Feed(s); ok {
			c.failValidation(ev)
			return
		}
		elapsed := s.Time.Sub(c.phaseStart)
		if elapsed >= c.cfg.Validation {
			c.commit()
			return
		}
		c.progress(float64(elapsed) / float64(c.cfg.Validation))
	}
}

func (c *Controller) feedCued(t time.Time, amp float64) {
	if c.restFrom.IsZero() {
		c.restFrom = t
	}

	if c.cueAt.IsZero() {
		if t.Sub(c.restFrom) < c.cfg.CueRest {
			return
		}
		c.cueAt = t
		c.repPeak = 0
		c.status.Repetition = c.rep + 1
		c.show(CueBlink)
	}

	c.repPeak = math.Max(c.repPeak, amp)
	since := t.Sub(c.cueAt)
	if since < c.cfg.ResponseWindow {
		frac := float64(since) / float64(c.cfg.ResponseWindow)
		c.progress((float64(c.rep) + frac) / float64(c.cfg.Repetitions))
		return
	}

	c.blinks = append(c.blinks, c.repPeak)
	slog.Debug("calibration: cued blink captured", "repetition", c.rep+1, "peak", c.repPeak)
	c.rep++
	if c.rep >= c.cfg.Repetitions {
		c.computeThreshold()
		return
	}
	c.cueAt = time.Time{}
	c.restFrom = t
	c.show(CueRelax)
}

func (c *Controller) computeThreshold() {
	c.enter(PhaseThreshold)

	res, err := ComputeThreshold(c.noise, c.blinks, c.cfg.Coefficient)
	if err != nil {
		reason := ReasonInsufficientSeparation
		if errors.Is(err, ErrNoSamples) {
			reason = ReasonNoSamples
		} else {
			c.status.Result = &res
		}
		c.abort(reason, err.Error())
		return
	}

	c.result = res
	c.trial = detector.New(c.cfg.Cooldown, c.cfg.Rearm)
	c.trial.SetThreshold(res.Threshold)
	slog.Info("calibration: threshold computed",
		"noise_mean", res.NoiseMean, "blink_mean", res.BlinkMean, "threshold", res.Threshold)
	c.enter(PhaseValidation)
}

func (c *Controller) failValidation(ev eeg.BlinkEvent) {
	failures := c.status.Round
	slog.Warn("calibration: trigger at rest during validation",
		"round", c.status.Round, "amplitude", ev.Amplitude, "threshold", c.result.Threshold)

	if failures > c.cfg.MaxRetries {
		c.abort(ReasonValidationFailed,
			fmt.Sprintf("threshold %.1f triggered at rest in %d rounds", c.result.Threshold, failures))
		return
	}

	c.status.Round++
	c.status.Message = "trigger at rest, repeating capture"
	c.resetRound()
	c.enter(PhaseBaseline)
}

func (c *Controller) commit() {
	res := c.result
	c.live.SetThreshold(res.Threshold)
	c.status.Result = &res
	c.status.Message = ""
	c.trial = nil
	slog.Info("calibration: threshold committed", "session", c.status.SessionID, "threshold", res.Threshold)
	c.enter(PhaseDone)
}

func (c *Controller) abort(reason Reason, msg string) {
	c.status.Reason = reason
	c.status.Message = msg
	c.trial = nil
	slog.Warn("calibration: aborted", "session", c.status.SessionID, "phase", c.status.Phase, "reason", reason, "detail", msg)
	c.enter(PhaseAborted)
}

func (c *Controller) resetRound() {
	c.noise = c.noise[:0]
	c.blinks = c.blinks[:0]
	c.rep = 0
	c.restFrom = time.Time{}
	c.cueAt = time.Time{}
	c.repPeak = 0
	c.status.Repetition = 0
}

func (c *Controller) enter(p Phase) {
	c.status.Phase = p
	c.status.Progress = 0
	c.phaseStart = time.Time{}
	c.phaseWall = c.now()

	switch p {
	case PhaseBaseline, PhaseCuedBlink, PhaseValidation:
		c.show(CueRelax)
		return
	case PhaseDone:
		c.status.Progress = 1
	}
	if p == PhaseThreshold {
		c.publish()
		return
	}
	c.show(CueOff)
}

func (c *Controller) show(kind CueKind) {
	c.status.Cue = kind
	if c.cue != nil {
		c.cue.Show(kind)
	}
	c.publish()
}

// progress publishes only on whole-percent changes.
func (c *Controller) progress(p float64) {
	p = math.Min(math.Max(p, 0), 1)
	if math.Floor(p*100) == math.Floor(c.status.Progress*100) {
		c.status.Progress = p
		return
	}
	c.status.Progress = p
	c.publish()
}

func (c *Controller) publish() {
	c.status.UpdatedAt = c.now()
	if c.sink != nil {
		c.sink.SetCalibration(c.status)
	}
}
