// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package eval scores detected blinks against cue timestamps.
package eval

import (
	"sort"
	"time"
)

// Result holds the confusion counts and derived scores.
type Result struct {
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

// NewResult derives precision, recall and F1. Undefined ratios are 0.
func NewResult(tp, fp, fn int) Result {
	r := Result{TP: tp, FP: fp, FN: fn}
	if tp+fp > 0 {
		r.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		r.Recall = float64(tp) / float64(tp+fn)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}

// Score matches each cue to the first unused event in [cue, cue+window).
// Matched cues are true positives, unmatched cues false negatives and
// unmatched events false positives.
func Score(events, cues []time.Time, window time.Duration) Result {
	ev := sortedCopy(events)
	cs := sortedCopy(cues)
	used := make([]bool, len(ev))

	tp, fn := 0, 0
	start := 0
	for _, c := range cs {
		for start < len(ev) && ev[start].Before(c) {
			start++
		}
		matched := false
		for i := start; i < len(ev) && ev[i].Before(c.Add(window)); i++ {
			if !used[i] {
				used[i] = true
				matched = true
				break
			}
		}
		if matched {
			tp++
		} else {
			fn++
		}
	}

	fp := 0
	for _, u := range used {
		if !u {
			fp++
		}
	}
	return NewResult(tp, fp, fn)
}

func sortedCopy(ts []time.Time) []time.Time {
	out := make([]time.Time, len(ts))
	copy(out, ts)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
