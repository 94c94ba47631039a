// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquisition

import (
	"fmt"

	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

// Open builds the source selected by the configuration.
func Open(cfg *config.Config) (eeg.RawSource, error) {
	switch cfg.Source {
	case "cyton":
		return OpenCyton(cfg.SerialPort, cfg.BaudRate, cfg.ChannelA, cfg.ChannelB, cfg.SampleRate)
	case "replay":
		return OpenReplay(cfg.ReplayFile, cfg.SampleRate, true)
	case "mock":
		return NewSynthetic(DefaultSynthetic(cfg.SampleRate, cfg.MainsHz)), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}
