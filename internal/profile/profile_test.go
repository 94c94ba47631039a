// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/blink_computer/internal/calibration"
)

func doneStatus() calibration.Status {
	return calibration.Status{
		SessionID: "3f1d",
		Phase:     calibration.PhaseDone,
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Result: &calibration.Result{
			NoiseMean:   8,
			BlinkMean:   120,
			Coefficient: 0.6,
			Threshold:   75.2,
		},
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	p, err := FromStatus("alice", doneStatus())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, p))

	got, err := s.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 75.2, got.Threshold)
	assert.Equal(t, "3f1d", got.SessionID)
	assert.Equal(t, 120.0, got.Result.BlinkMean)
	assert.True(t, got.Timestamp.Equal(p.Timestamp))
}

func TestFromStatusRequiresDone(t *testing.T) {
	st := doneStatus()
	st.Phase = calibration.PhaseAborted
	_, err := FromStatus("alice", st)
	assert.Error(t, err)
}

func TestUserIDValidation(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, id := range []string{"", "..", "../etc", "a/b"} {
		_, err := s.Load(context.Background(), id)
		assert.ErrorIs(t, err, ErrInvalidUser, id)
	}
}
