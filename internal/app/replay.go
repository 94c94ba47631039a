// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/eval"
	"github.com/relabs-tech/blink_computer/internal/pipeline"
	"github.com/relabs-tech/blink_computer/internal/store"
)

// ReplayEpoch is the time base for offline runs, so results are reproducible.
var ReplayEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// ReplayReport is the outcome of an offline run.
type ReplayReport struct {
	Frames  int              `json:"frames"`
	Dropped uint64           `json:"dropped"`
	Events  []eeg.BlinkEvent `json:"events"`
	Score   *eval.Result     `json:"score,omitempty"`
}

// RunReplay pushes every frame of src through a fresh engine as fast as
// possible. threshold > 0 overrides the configured initial threshold.
func RunReplay(ctx context.Context, cfg *config.Config, src eeg.RawSource, threshold float64) (ReplayReport, error) {
	var report ReplayReport

	st := store.New(cfg.WindowSamples())
	engine, err := pipeline.New(cfg, st, pipeline.WithBlinkHandler(func(ev eeg.BlinkEvent) {
		report.Events = append(report.Events, ev)
	}))
	if err != nil {
		return report, err
	}
	if threshold > 0 {
		engine.SetThreshold(threshold)
	}

	counter := &countingSource{RawSource: src}
	if err := engine.Run(ctx, counter); err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	report.Frames = counter.n
	report.Dropped = st.Snapshot().Dropped
	return report, nil
}

// ScoreCues matches the report's events against cue tick indices.
func (r *ReplayReport) ScoreCues(cues []int64, period, window time.Duration) eval.Result {
	cueTimes := make([]time.Time, len(cues))
	for i, c := range cues {
		cueTimes[i] = ReplayEpoch.Add(time.Duration(c) * period)
	}
	events := make([]time.Time, len(r.Events))
	for i, ev := range r.Events {
		events[i] = ev.Time
	}
	res := eval.Score(events, cueTimes, window)
	r.Score = &res
	return res
}

type countingSource struct {
	eeg.RawSource
	n int
}

func (c *countingSource) Next(ctx context.Context) (eeg.RawFrame, error) {
	f, err := c.RawSource.Next(ctx)
	if err == nil {
		c.n++
	}
	return f, err
}
