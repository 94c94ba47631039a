// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/control"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF66"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(12)
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	blinkStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFCC00"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type (
	stateMsg  StateMessage
	blinkMsg  eeg.BlinkEvent
	sampleMsg eeg.FilteredSample
)

// ConsoleModel renders the producer's MQTT topics as a live terminal panel.
type ConsoleModel struct {
	broker string

	state     StateMessage
	haveState bool
	last      eeg.BlinkEvent
	haveBlink bool
	latest    eeg.FilteredSample
	toggle    *control.Toggle
}

func NewConsoleModel(broker string) ConsoleModel {
	return ConsoleModel{
		broker: broker,
		toggle: control.NewToggle(control.Left),
	}
}

func (m ConsoleModel) Init() tea.Cmd { return nil }

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case stateMsg:
		m.state = StateMessage(msg)
		m.haveState = true
		m.toggle.ObserveCount(m.state.EventCount)
	case blinkMsg:
		m.last = eeg.BlinkEvent(msg)
		m.haveBlink = true
		m.toggle.ObserveCount(m.last.Counter)
	case sampleMsg:
		m.latest = eeg.FilteredSample(msg)
	}
	return m, nil
}

func (m ConsoleModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("BLINK COMPUTER") + "  " + valueStyle.Render(m.broker) + "\n\n")

	if !m.haveState {
		b.WriteString(warnStyle.Render("waiting for producer state...") + "\n")
		return boxStyle.Render(b.String())
	}

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}

	if m.state.Armed {
		row("threshold", fmt.Sprintf("%.1f uV", m.state.Threshold))
	} else {
		row("threshold", warnStyle.Render("not set, run calibration"))
	}
	row("cooldown", fmt.Sprintf("%.2f s", m.state.CooldownSecs))
	row("detecting", fmt.Sprintf("%v", m.state.Detecting))
	row("signal", fmt.Sprintf("%8.1f uV", m.latest.Value))
	row("mains", fmt.Sprintf("%3.0f%%", m.state.MainsRatio*100))
	if m.state.Dropped > 0 {
		row("dropped", warnStyle.Render(fmt.Sprintf("%d", m.state.Dropped)))
	}

	if m.state.Phase.Active() || m.state.Phase == calibration.PhaseAborted {
		cal := fmt.Sprintf("%s %3.0f%%", m.state.Phase, m.state.Progress*100)
		if m.state.Reason != "" {
			cal += " (" + m.state.Reason + ")"
		}
		row("calibration", cal)
	}

	b.WriteString("\n")
	row("blinks", fmt.Sprintf("%d", m.state.EventCount))
	if m.haveBlink {
		row("last", blinkStyle.Render(fmt.Sprintf("#%d %.1f uV at %s",
			m.last.Counter, m.last.Amplitude, m.last.Time.Format("15:04:05.000"))))
	}
	row("direction", blinkStyle.Render(m.toggle.Direction().String()))

	b.WriteString("\n" + labelStyle.Render("q to quit"))
	return boxStyle.Render(b.String())
}

// RunConsoleMQTT subscribes to the producer topics and runs the terminal UI.
func RunConsoleMQTT(cfg *config.Config) error {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientIDConsole)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	defer client.Disconnect(250)
	slog.Info("console: connected to MQTT broker", "broker", cfg.MQTTBroker)

	p := tea.NewProgram(NewConsoleModel(cfg.MQTTBroker), tea.WithAltScreen())

	if err := SubscribeJSON(client, cfg.TopicState, func(s StateMessage) { p.Send(stateMsg(s)) }); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.TopicState, err)
	}
	if err := SubscribeJSON(client, cfg.TopicBlink, func(ev eeg.BlinkEvent) { p.Send(blinkMsg(ev)) }); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.TopicBlink, err)
	}
	if err := SubscribeJSON(client, cfg.TopicSignal, func(s eeg.FilteredSample) { p.Send(sampleMsg(s)) }); err != nil {
		return fmt.Errorf("subscribe %s: %w", cfg.TopicSignal, err)
	}

	_, err := p.Run()
	return err
}
