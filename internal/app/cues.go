// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/blink_computer/internal/calibration"
)

// CueLight drives an LED on a GPIO pin: lit while the user should blink.
type CueLight struct {
	pin gpio.PinIO
}

// OpenCueLight resolves a pin name such as "GPIO17".
func OpenCueLight(name string) (*CueLight, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %w", err)
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin %q: %w", name, err)
	}
	slog.Info("cue: light ready", "pin", name)
	return &CueLight{pin: pin}, nil
}

func (c *CueLight) Show(kind calibration.CueKind) {
	level := gpio.Low
	if kind == calibration.CueBlink {
		level = gpio.High
	}
	if err := c.pin.Out(level); err != nil {
		slog.Warn("cue: gpio write failed", "err", err)
	}
}

// Off turns the light off on shutdown.
func (c *CueLight) Off() {
	c.Show(calibration.CueOff)
}

// Cues fans one cue out to several stimuli.
type Cues []calibration.Cue

func (cs Cues) Show(kind calibration.CueKind) {
	for _, c := range cs {
		c.Show(kind)
	}
}

// LogCue reports cue changes in the log, for runs without a light.
var LogCue = calibration.CueFunc(func(kind calibration.CueKind) {
	slog.Info("cue: " + kind.String())
})
