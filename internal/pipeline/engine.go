// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package pipeline wires ingestion, preprocessing, detection and calibration
// into the per-tick processing step that feeds the shared store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/detector"
	"github.com/relabs-tech/blink_computer/internal/dsp"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/ingest"
	"github.com/relabs-tech/blink_computer/internal/metrics"
	"github.com/relabs-tech/blink_computer/internal/store"
)

// ErrCalibrating is returned for settings changes while a session owns the
// signal.
var ErrCalibrating = errors.New("calibration in progress")

const (
	tickInterval  = 100 * time.Millisecond
	dropLogEvery  = 250
	mainsInterval = time.Second
)

type Option func(*Engine)

// WithCue forwards calibration cues to c.
func WithCue(c calibration.Cue) Option { return func(e *Engine) { e.cue = c } }

// WithStatusHook is called after every calibration status change. It runs on
// the pipeline goroutine with the engine locked and must not call back into
// the engine.
func WithStatusHook(fn func(calibration.Status)) Option {
	return func(e *Engine) { e.statusHook = fn }
}

// WithBlinkHandler is called for every published blink event on the pipeline
// goroutine. Handlers must not block.
func WithBlinkHandler(fn func(eeg.BlinkEvent)) Option {
	return func(e *Engine) { e.blinkHandlers = append(e.blinkHandlers, fn) }
}

// WithClock replaces the wall clock used for calibration timeouts.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine owns every mutable pipeline component. Step and the control methods
// serialise on one mutex; readers go through the store.
type Engine struct {
	cfg   *config.Config
	store *store.Store

	cue           calibration.Cue
	statusHook    func(calibration.Status)
	blinkHandlers []func(eeg.BlinkEvent)
	now           func() time.Time

	mu        sync.Mutex
	ingestor  *ingest.Ingestor
	chain     *dsp.Chain
	det       *detector.Detector
	ctl       *calibration.Controller
	detecting bool
	dropped   uint64
	lastMains time.Time
}

func New(cfg *config.Config, st *store.Store, opts ...Option) (*Engine, error) {
	chain, err := dsp.NewChain(cfg.ChainConfig())
	if err != nil {
		return nil, fmt.Errorf("preprocessing chain: %w", err)
	}

	e := &Engine{
		cfg:       cfg,
		store:     st,
		now:       time.Now,
		ingestor:  ingest.NewIngestor(cfg.WindowSamples(), cfg.MaxAbsUV),
		chain:     chain,
		det:       detector.New(cfg.Cooldown(), cfg.RearmFactor),
		detecting: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ctl = calibration.NewController(cfg.CalibrationConfig(), liveThreshold{e},
		calibration.WithCue(e.cue),
		calibration.WithSink(statusSink{e}),
		calibration.WithClock(e.now),
	)

	e.setThreshold(cfg.InitialThresholdUV)
	st.SetCooldown(cfg.Cooldown())
	st.SetDetecting(true)
	st.SetCalibration(e.ctl.Status())
	return e, nil
}

// Step processes one raw frame. Warm-up ticks return nil without output;
// rejected frames return the ingest error.
func (e *Engine) Step(f eeg.RawFrame) error {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.ingestor.Ingest(f)
	if err != nil {
		e.drop(f, err)
		return err
	}
	metrics.SamplesIngested.Inc()

	window := e.ingestor.Window().Values()
	y, err := e.chain.Process(window)
	if errors.Is(err, dsp.ErrNotReady) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("preprocessing: %w", err)
	}

	fs := eeg.FilteredSample{Index: s.Index, Time: s.Time, Value: y[len(y)-1]}
	e.store.PublishSample(fs)
	metrics.FilteredAmplitude.Set(fs.Value)

	switch {
	case e.ctl.Active():
		e.ctl.Feed(fs)
	case e.detecting:
		if ev, ok := e.det.Feed(fs); ok {
			ev = e.store.PublishEvent(ev)
			metrics.BlinksDetected.Inc()
			slog.Info("blink detected", "counter", ev.Counter, "amplitude", math.Round(ev.Amplitude*10)/10)
			for _, h := range e.blinkHandlers {
				h(ev)
			}
		}
	}
	e.ctl.Tick()

	if e.cfg.MainsHz > 0 && s.Time.Sub(e.lastMains) >= mainsInterval {
		e.lastMains = s.Time
		ratio := dsp.MainsRatio(window, e.cfg.SampleRate, e.cfg.MainsHz)
		e.store.SetMainsRatio(ratio)
		metrics.MainsRatio.Set(ratio)
	}

	metrics.ProcessLatency.Observe(time.Since(start).Seconds())
	return nil
}

func (e *Engine) drop(f eeg.RawFrame, err error) {
	reason := "other"
	switch {
	case errors.Is(err, ingest.ErrNonFinite):
		reason = "non_finite"
	case errors.Is(err, ingest.ErrOutOfRange):
		reason = "out_of_range"
	case errors.Is(err, ingest.ErrOutOfOrder):
		reason = "out_of_order"
	}
	metrics.SamplesDropped.WithLabelValues(reason).Inc()
	e.store.AddDropped(1)

	e.dropped++
	if e.dropped%dropLogEvery == 1 {
		slog.Warn("dropping frames", "index", f.Index, "reason", reason, "dropped_total", e.dropped)
	}
}

// Run feeds frames from src until the context ends or the source is
// exhausted. io.EOF from the source ends the run without error.
func (e *Engine) Run(ctx context.Context, src eeg.RawSource) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go e.tickLoop(ctx)

	slog.Info("pipeline running", "sample_rate", e.cfg.SampleRate, "window", e.cfg.WindowSamples())
	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			slog.Info("source exhausted")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("source: %w", err)
		}

		if err := e.Step(f); err != nil {
			slog.Debug("frame rejected", "index", f.Index, "err", err)
		}
	}
}

// tickLoop keeps calibration timeouts running when the source stalls.
func (e *Engine) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			e.ctl.Tick()
			e.mu.Unlock()
		}
	}
}

// StartCalibration begins a guided session. Live detection is suspended until
// the session ends.
func (e *Engine) StartCalibration() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctl.Start()
}

// AbortCalibration cancels the active session, keeping the current threshold.
func (e *Engine) AbortCalibration() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctl.Abort(calibration.ReasonUserAbort)
}

func (e *Engine) CalibrationStatus() calibration.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctl.Status()
}

// Settings are the operator-adjustable detection parameters. Nil fields are
// left unchanged.
type Settings struct {
	ThresholdUV  *float64 `json:"threshold_uv,omitempty"`
	CooldownSecs *float64 `json:"cooldown_secs,omitempty"`
}

// UpdateSettings applies manual detection settings. A non-positive threshold
// disables detection until the next calibration or update.
func (e *Engine) UpdateSettings(s Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctl.Active() {
		return ErrCalibrating
	}
	if s.CooldownSecs != nil {
		c := *s.CooldownSecs
		if c <= 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("cooldown %v must be a positive number of seconds", c)
		}
		d := time.Duration(c * float64(time.Second))
		e.det.SetCooldown(d)
		e.store.SetCooldown(d)
	}
	if s.ThresholdUV != nil {
		e.setThreshold(*s.ThresholdUV)
	}
	slog.Info("detection settings updated", "threshold", e.store.Snapshot().Threshold, "cooldown", e.det.Cooldown())
	return nil
}

// SetThreshold installs a threshold directly, for example from a saved profile.
func (e *Engine) SetThreshold(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setThreshold(v)
}

// SetDetecting pauses or resumes live detection without touching the
// threshold.
func (e *Engine) SetDetecting(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on && !e.detecting {
		e.det.Reset()
	}
	e.detecting = on
	e.store.SetDetecting(on)
}

func (e *Engine) setThreshold(v float64) {
	e.det.SetThreshold(v)
	th, armed := e.det.Threshold()
	e.store.SetThreshold(th, armed)
	metrics.Threshold.Set(th)
}

// liveThreshold is the commit target of the calibration controller. It runs
// with the engine already locked.
type liveThreshold struct{ e *Engine }

func (l liveThreshold) SetThreshold(v float64) {
	l.e.det.Reset()
	l.e.setThreshold(v)
}

type statusSink struct{ e *Engine }

func (s statusSink) SetCalibration(st calibration.Status) {
	s.e.store.SetCalibration(st)
	switch st.Phase {
	case calibration.PhaseDone:
		metrics.CalibrationOutcomes.WithLabelValues("done").Inc()
	case calibration.PhaseAborted:
		metrics.CalibrationOutcomes.WithLabelValues(string(st.Reason)).Inc()
	}
	if s.e.statusHook != nil {
		s.e.statusHook(st)
	}
}
