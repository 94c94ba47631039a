// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/metrics"
	"github.com/relabs-tech/blink_computer/internal/store"
)

// StateMessage is the retained summary on the state topic.
type StateMessage struct {
	Threshold    float64           `json:"threshold_uv"`
	Armed        bool              `json:"armed"`
	CooldownSecs float64           `json:"cooldown_secs"`
	Detecting    bool              `json:"detecting"`
	EventCount   uint64            `json:"event_count"`
	Phase        calibration.Phase `json:"calibration_phase"`
	Progress     float64           `json:"calibration_progress"`
	Reason       string            `json:"calibration_reason,omitempty"`
	MainsRatio   float64           `json:"mains_ratio"`
	Dropped      uint64            `json:"dropped"`
}

// NewStateMessage summarises a snapshot. Values are rounded so the message
// only changes when something visible changes.
func NewStateMessage(s store.Snapshot) StateMessage {
	return StateMessage{
		Threshold:    s.Threshold,
		Armed:        s.Armed,
		CooldownSecs: s.Cooldown.Seconds(),
		Detecting:    s.Detecting,
		EventCount:   s.EventCount,
		Phase:        s.Calibration.Phase,
		Progress:     float64(int(s.Calibration.Progress*100)) / 100,
		Reason:       string(s.Calibration.Reason),
		MainsRatio:   float64(int(s.MainsRatio*100)) / 100,
		Dropped:      s.Dropped,
	}
}

// Topics names the publisher's MQTT topics.
type Topics struct {
	Blink  string
	Signal string
	State  string
}

// Publisher polls the store and mirrors it to MQTT.
type Publisher struct {
	client mqtt.Client
	topics Topics
}

// ConnectPublisher connects to broker with clientID.
func ConnectPublisher(broker, clientID string, topics Topics) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	slog.Info("publisher: connected to MQTT broker", "broker", broker)
	return &Publisher{client: client, topics: topics}, nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Run publishes every interval until ctx ends: new blink events, the latest
// filtered sample and the state summary when it changed.
func (p *Publisher) Run(ctx context.Context, st *store.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeen := st.Snapshot().EventCount
	var lastState StateMessage
	var lastSample int64 = -1

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap, fresh := st.Poll(lastSeen)
		if fresh {
			lastSeen = snap.EventCount
			p.publish(p.topics.Blink, "blink", false, snap.LastEvent)
		}

		if snap.HaveSample && snap.Latest.Index != lastSample {
			lastSample = snap.Latest.Index
			p.publish(p.topics.Signal, "signal", false, snap.Latest)
		}

		if state := NewStateMessage(snap); state != lastState {
			lastState = state
			p.publish(p.topics.State, "state", true, state)
		}
	}
}

func (p *Publisher) publish(topic, kind string, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("publisher: json marshal error", "kind", kind, "err", err)
		return
	}
	if token := p.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		slog.Warn("publisher: MQTT publish error", "topic", topic, "err", token.Error())
		return
	}
	metrics.Published.WithLabelValues("mqtt", kind).Inc()
}

// SubscribeJSON decodes every message on topic into a fresh T and hands it
// to fn.
func SubscribeJSON[T any](client mqtt.Client, topic string, fn func(T)) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			slog.Warn("mqtt: payload unmarshal error", "topic", topic, "err", err)
			return
		}
		fn(v)
	})
	token.Wait()
	return token.Error()
}
