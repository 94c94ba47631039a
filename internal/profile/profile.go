// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package profile persists per-user calibration results so the daemon can
// start with a known threshold.
package profile

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
)

var (
	ErrNotFound    = errors.New("profile not found")
	ErrInvalidUser = errors.New("invalid user id")
)

// Profile is the stored outcome of a successful calibration.
type Profile struct {
	Version   int                `json:"version"`
	UserID    string             `json:"user_id"`
	SessionID string             `json:"session_id"`
	Timestamp time.Time          `json:"timestamp"`
	Threshold float64            `json:"threshold"`
	Result    calibration.Result `json:"result"`
}

// FromStatus builds a profile from a finished session. It fails unless the
// session reached PhaseDone.
func FromStatus(user string, st calibration.Status) (Profile, error) {
	if st.Phase != calibration.PhaseDone || st.Result == nil {
		return Profile{}, fmt.Errorf("session %s ended in %s", st.SessionID, st.Phase)
	}
	return Profile{
		Version:   1,
		UserID:    user,
		SessionID: st.SessionID,
		Timestamp: st.UpdatedAt,
		Threshold: st.Result.Threshold,
		Result:    *st.Result,
	}, nil
}

// Store loads and saves profiles keyed by user id.
type Store interface {
	Save(ctx context.Context, p Profile) error
	Load(ctx context.Context, userID string) (Profile, error)
}

var userPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

func validUser(id string) error {
	if !userPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidUser, id)
	}
	return nil
}
