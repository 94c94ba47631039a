// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/profile"
)

// OpenProfileStore picks Redis when REDIS_ADDR is set, the profile directory
// otherwise.
func OpenProfileStore(ctx context.Context, cfg *config.Config) (profile.Store, error) {
	if cfg.RedisAddr != "" {
		return profile.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ProfileTTL())
	}
	return profile.NewFileStore(cfg.ProfileDir)
}

// LoadThreshold returns the stored threshold for user, or false when the
// user has no profile yet.
func LoadThreshold(ctx context.Context, profiles profile.Store, user string) (float64, bool) {
	p, err := profiles.Load(ctx, user)
	if errors.Is(err, profile.ErrNotFound) {
		slog.Info("profile: none stored, calibration required", "user", user)
		return 0, false
	}
	if err != nil {
		slog.Warn("profile: load failed", "user", user, "err", err)
		return 0, false
	}
	slog.Info("profile: loaded", "user", user, "threshold", p.Threshold, "calibrated", p.Timestamp.Format(time.RFC3339))
	return p.Threshold, true
}

// SaveOnDone returns a status hook that persists successful sessions. The
// save runs off the pipeline goroutine.
func SaveOnDone(profiles profile.Store, user string) func(calibration.Status) {
	return func(st calibration.Status) {
		if st.Phase != calibration.PhaseDone {
			return
		}
		p, err := profile.FromStatus(user, st)
		if err != nil {
			slog.Warn("profile: cannot build profile", "err", err)
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := profiles.Save(ctx, p); err != nil {
				slog.Error("profile: save failed", "user", user, "err", err)
				return
			}
			slog.Info("profile: saved", "user", user, "threshold", p.Threshold)
		}()
	}
}
