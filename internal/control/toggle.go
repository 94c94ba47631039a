// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package control turns the blink counter into a binary direction signal.
package control

import (
	"sync"

	"github.com/relabs-tech/blink_computer/internal/store"
)

type Direction int

const (
	Left Direction = iota
	Right
)

func (d Direction) String() string {
	if d == Right {
		return "right"
	}
	return "left"
}

func (d Direction) Flip() Direction {
	if d == Right {
		return Left
	}
	return Right
}

// Toggle flips the direction once per new event counter value. The first
// observation only records the counter, so a consumer that attaches late
// does not replay old blinks.
type Toggle struct {
	mu        sync.Mutex
	direction Direction
	lastSeen  uint64
	seeded    bool
}

func NewToggle(initial Direction) *Toggle {
	return &Toggle{direction: initial}
}

// Observe consumes a snapshot and returns the number of flips applied.
func (t *Toggle) Observe(snap store.Snapshot) int {
	return t.ObserveCount(snap.EventCount)
}

func (t *Toggle) ObserveCount(count uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.seeded {
		t.seeded = true
		t.lastSeen = count
		return 0
	}
	if count <= t.lastSeen {
		return 0
	}

	flips := int(count - t.lastSeen)
	if flips%2 == 1 {
		t.direction = t.direction.Flip()
	}
	t.lastSeen = count
	return flips
}

func (t *Toggle) Direction() Direction {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.direction
}

func (t *Toggle) LastSeen() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSeen
}
