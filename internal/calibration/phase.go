// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"
	"time"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseBaseline
	PhaseCuedBlink
	PhaseThreshold
	PhaseValidation
	PhaseDone
	PhaseAborted
)

var phaseNames = map[Phase]string{
	PhaseIdle:       "idle",
	PhaseBaseline:   "baseline_capture",
	PhaseCuedBlink:  "cued_blink",
	PhaseThreshold:  "threshold_computation",
	PhaseValidation: "validation",
	PhaseDone:       "done",
	PhaseAborted:    "aborted",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for k, v := range phaseNames {
		if v == string(b) {
			*p = k
			return nil
		}
	}
	return fmt.Errorf("unknown calibration phase %q", string(b))
}

// Active reports whether a session is in progress.
func (p Phase) Active() bool {
	return p >= PhaseBaseline && p <= PhaseValidation
}

// Reason explains why a session ended in PhaseAborted.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonInsufficientSeparation Reason = "insufficient_separation"
	ReasonNoSamples              Reason = "no_samples"
	ReasonValidationFailed       Reason = "validation_failed"
	ReasonTimeout                Reason = "timeout"
	ReasonUserAbort              Reason = "user_abort"
)

type CueKind int

const (
	CueOff CueKind = iota
	CueRelax
	CueBlink
)

func (k CueKind) String() string {
	switch k {
	case CueRelax:
		return "relax"
	case CueBlink:
		return "blink"
	default:
		return "off"
	}
}

func (k CueKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *CueKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "relax":
		*k = CueRelax
	case "blink":
		*k = CueBlink
	case "off", "":
		*k = CueOff
	default:
		return fmt.Errorf("unknown cue %q", string(b))
	}
	return nil
}

// Cue is the stimulus shown to the user (light, screen, console prompt).
type Cue interface {
	Show(kind CueKind)
}

// CueFunc adapts a function to Cue.
type CueFunc func(kind CueKind)

func (f CueFunc) Show(kind CueKind) { f(kind) }

// Status is the read-only view of a session published to consumers.
type Status struct {
	SessionID   string    `json:"session_id,omitempty"`
	Phase       Phase     `json:"phase"`
	Cue         CueKind   `json:"cue"`
	Round       int       `json:"round"`
	Repetition  int       `json:"repetition"`
	Repetitions int       `json:"repetitions"`
	Progress    float64   `json:"progress"`
	Reason      Reason    `json:"reason,omitempty"`
	Message     string    `json:"message,omitempty"`
	Result      *Result   `json:"result,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
