// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/control"
	"github.com/relabs-tech/blink_computer/internal/store"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

// DisplayLines formats the four status lines shown on the OLED.
func DisplayLines(snap store.Snapshot, dir control.Direction) [4]string {
	var lines [4]string

	if snap.Armed {
		lines[0] = fmt.Sprintf("TH:%6.1f uV", snap.Threshold)
	} else {
		lines[0] = "TH: not set"
	}

	cal := snap.Calibration
	switch {
	case cal.Phase.Active():
		lines[1] = fmt.Sprintf("CAL %s %3d%%", shortPhase(cal.Phase), int(cal.Progress*100))
	case !snap.Detecting:
		lines[1] = "PAUSED"
	case !snap.HaveSample:
		lines[1] = "Waiting..."
	default:
		lines[1] = "DETECTING"
	}

	lines[2] = fmt.Sprintf("BLINKS:%6d", snap.EventCount)
	lines[3] = "DIR: " + dir.String()
	return lines
}

func shortPhase(p calibration.Phase) string {
	switch p {
	case calibration.PhaseBaseline:
		return "BASE"
	case calibration.PhaseCuedBlink:
		return "BLNK"
	case calibration.PhaseThreshold:
		return "CALC"
	case calibration.PhaseValidation:
		return "VAL"
	}
	return p.String()
}

// RenderStatus draws the status lines into a display-sized 1-bit image.
func RenderStatus(lines [4]string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(0, lineHeight*(i+1))
		drawer.DrawBytes([]byte(line))
	}
	return img
}

// RunDisplay refreshes an SSD1306 OLED on the default I²C bus every interval.
func RunDisplay(ctx context.Context, st *store.Store, interval time.Duration) error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	slog.Info("display: initialized", "interval", interval)

	if err := dev.Draw(dev.Bounds(), RenderStatus([4]string{"", "  BLINK", "  COMPUTER", ""}), image.Point{}); err != nil {
		slog.Warn("display: error showing splash", "err", err)
	}

	toggle := control.NewToggle(control.Left)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last [4]string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := st.Snapshot()
		toggle.Observe(snap)
		lines := DisplayLines(snap, toggle.Direction())
		if lines == last {
			continue
		}
		last = lines
		if err := dev.Draw(dev.Bounds(), RenderStatus(lines), image.Point{}); err != nil {
			slog.Warn("display: error updating display", "err", err)
		}
	}
}
