// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SamplesIngested counts frames accepted into the window.
	SamplesIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eeg_samples_ingested_total",
			Help: "Total number of raw frames accepted by the ingestor",
		},
	)

	// SamplesDropped counts rejected frames by reason.
	SamplesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eeg_samples_dropped_total",
			Help: "Total number of raw frames dropped",
		},
		[]string{"reason"},
	)

	// TicksSkipped counts acquisition ticks lost in transport.
	TicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eeg_ticks_skipped_total",
			Help: "Acquisition ticks missing from the stream",
		},
	)

	BlinksDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blink_events_total",
			Help: "Total number of blink events emitted by the live detector",
		},
	)

	// ProcessLatency is the time spent filtering and detecting per tick.
	ProcessLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_tick_duration_seconds",
			Help:    "Preprocessing and detection latency per tick in seconds",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
		},
	)

	Threshold = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blink_threshold_microvolts",
			Help: "Current live detection threshold (0 when disabled)",
		},
	)

	FilteredAmplitude = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eeg_filtered_amplitude_microvolts",
			Help: "Most recent filtered sample",
		},
	)

	// MainsRatio is the fraction of window power around the mains frequency.
	MainsRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eeg_mains_power_ratio",
			Help: "Fraction of raw window power within 2 Hz of the mains frequency",
		},
	)

	CalibrationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calibration_sessions_total",
			Help: "Finished calibration sessions by outcome",
		},
		[]string{"outcome"},
	)

	EvaluationScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evaluation_score",
			Help: "Last evaluation run score",
		},
		[]string{"metric"},
	)

	// Published counts outbound messages by transport.
	Published = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_published_total",
			Help: "Messages sent to downstream consumers",
		},
		[]string{"transport", "kind"},
	)
)
