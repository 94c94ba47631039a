// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/relabs-tech/blink_computer/internal/eeg"
)

// CSVHeader is written by WriteCSV and skipped by the replay reader.
var CSVHeader = []string{"index", "channel_a_uv", "channel_b_uv"}

// Replay reads frames recorded as "index,a,b" rows. A header row is optional.
type Replay struct {
	file     io.Closer
	reader   *csv.Reader
	period   time.Duration
	start    time.Time
	realtime bool
	line     int
	last     int64
	seen     bool
	timer    *time.Timer
}

// OpenReplay opens a CSV recording. With realtime set, frames are paced at
// the sample rate.
func OpenReplay(path string, sampleRate float64, realtime bool) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	r := NewReplay(f, sampleRate, realtime)
	r.file = f
	return r, nil
}

func NewReplay(r io.Reader, sampleRate float64, realtime bool) *Replay {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &Replay{
		reader:   cr,
		period:   time.Duration(float64(time.Second) / sampleRate),
		start:    time.Now(),
		realtime: realtime,
	}
}

// SetStart fixes the time base so offline runs are reproducible.
func (r *Replay) SetStart(t time.Time) { r.start = t }

// Next returns io.EOF at the end of the recording.
func (r *Replay) Next(ctx context.Context) (eeg.RawFrame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return eeg.RawFrame{}, err
		}
		rec, err := r.reader.Read()
		if errors.Is(err, io.EOF) {
			return eeg.RawFrame{}, io.EOF
		}
		if err != nil {
			return eeg.RawFrame{}, fmt.Errorf("replay: %w", err)
		}
		r.line++

		if r.line == 1 && isHeader(rec) {
			continue
		}

		f, err := r.parse(rec)
		if err != nil {
			return eeg.RawFrame{}, fmt.Errorf("replay line %d: %w", r.line, err)
		}
		if err := r.pace(ctx, f.Time); err != nil {
			return eeg.RawFrame{}, err
		}
		return f, nil
	}
}

func (r *Replay) parse(rec []string) (eeg.RawFrame, error) {
	idx, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return eeg.RawFrame{}, fmt.Errorf("index: %w", err)
	}
	a, err := strconv.ParseFloat(rec[1], 64)
	if err != nil {
		return eeg.RawFrame{}, fmt.Errorf("channel a: %w", err)
	}
	b, err := strconv.ParseFloat(rec[2], 64)
	if err != nil {
		return eeg.RawFrame{}, fmt.Errorf("channel b: %w", err)
	}
	return eeg.RawFrame{
		Index: idx,
		Time:  r.start.Add(time.Duration(idx) * r.period),
		A:     a,
		B:     b,
	}, nil
}

func (r *Replay) pace(ctx context.Context, at time.Time) error {
	if !r.realtime {
		return nil
	}
	wait := time.Until(at)
	if wait <= 0 {
		return nil
	}
	if r.timer == nil {
		r.timer = time.NewTimer(wait)
	} else {
		r.timer.Reset(wait)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.timer.C:
		return nil
	}
}

func (r *Replay) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

func isHeader(rec []string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
	return err != nil
}

// WriteCSV records frames in the replay format.
func WriteCSV(w io.Writer, frames []eeg.RawFrame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, f := range frames {
		row := []string{
			strconv.FormatInt(f.Index, 10),
			strconv.FormatFloat(f.A, 'f', 3, 64),
			strconv.FormatFloat(f.B, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCues reads cue tick indices, one per row. Rows that are not integers
// (a header) are skipped.
func ReadCues(r io.Reader) ([]int64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	var cues []int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return cues, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cues: %w", err)
		}
		idx, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			continue
		}
		cues = append(cues, idx)
	}
}

// WriteCues writes cue tick indices with a header row.
func WriteCues(w io.Writer, cues []int64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"cue_index"}); err != nil {
		return err
	}
	for _, c := range cues {
		if err := cw.Write([]string{strconv.FormatInt(c, 10)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
