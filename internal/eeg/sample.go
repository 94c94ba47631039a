// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package eeg

import (
	"context"
	"time"
)

// RawFrame is one acquisition tick: the two frontal channels in microvolts.
type RawFrame struct {
	Index int64     `json:"index"` // acquisition tick index
	Time  time.Time `json:"time"`
	A     float64   `json:"a"`
	B     float64   `json:"b"`
}

// Sample is the channel average of one RawFrame.
type Sample struct {
	Index int64     `json:"index"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// FilteredSample is the newest output of the preprocessing chain.
type FilteredSample struct {
	Index int64     `json:"index"`
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// BlinkEvent marks a detected blink. Counter is assigned by the state store.
type BlinkEvent struct {
	Index     int64     `json:"index"`
	Time      time.Time `json:"time"`
	Amplitude float64   `json:"amplitude"`
	Counter   uint64    `json:"counter"`
}

// RawSource yields raw frames at the acquisition rate.
type RawSource interface {
	Next(ctx context.Context) (RawFrame, error)
	Close() error
}
