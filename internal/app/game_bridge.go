// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/relabs-tech/blink_computer/internal/metrics"
	"github.com/relabs-tech/blink_computer/internal/store"
)

// GameEventBlink is the datagram the Pong game listens for.
const GameEventBlink = "EVENT:BLINK"

// GameBridge forwards each new blink counter value to a UDP game client.
type GameBridge struct {
	conn net.Conn
}

func DialGameBridge(addr string) (*GameBridge, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("game bridge dial %s: %w", addr, err)
	}
	slog.Info("game: forwarding blinks over UDP", "addr", addr)
	return &GameBridge{conn: conn}, nil
}

func (g *GameBridge) Close() error { return g.conn.Close() }

// Run polls the store every interval. Several events between two polls are
// sent as several datagrams.
func (g *GameBridge) Run(ctx context.Context, st *store.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSeen := st.Snapshot().EventCount
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap, fresh := st.Poll(lastSeen)
		if !fresh {
			continue
		}
		for ; lastSeen < snap.EventCount; lastSeen++ {
			if _, err := g.conn.Write([]byte(GameEventBlink)); err != nil {
				slog.Warn("game: UDP write failed", "err", err)
				continue
			}
			metrics.Published.WithLabelValues("udp", "blink").Inc()
		}
	}
}
