// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/blink_computer/internal/calibration"
)

const wsPushInterval = 100 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is a client command on the calibration socket.
type WSMessage struct {
	Action string `json:"action"` // start, abort
}

// WSResponse is pushed to the client whenever the session changes.
type WSResponse struct {
	Type     string              `json:"type"` // phase, progress, complete, error
	Phase    calibration.Phase   `json:"phase,omitempty"`
	Cue      calibration.CueKind `json:"cue"`
	Step     int                 `json:"step,omitempty"`
	Steps    int                 `json:"steps,omitempty"`
	Round    int                 `json:"round,omitempty"`
	Progress float64             `json:"progress,omitempty"`
	Results  *calibration.Result `json:"results,omitempty"`
	Message  string              `json:"message,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.WriteJSON(v)
}

func (c *wsConn) sendError(msg string) {
	if err := c.send(WSResponse{Type: "error", Message: msg}); err != nil {
		slog.Debug("calibration: websocket write error", "err", err)
	}
}

// statusResponse maps a session status to the message the page renders.
func statusResponse(st calibration.Status, prev calibration.Status) WSResponse {
	resp := WSResponse{
		Type:     "progress",
		Phase:    st.Phase,
		Cue:      st.Cue,
		Step:     st.Repetition,
		Steps:    st.Repetitions,
		Round:    st.Round,
		Progress: st.Progress,
		Message:  st.Message,
	}
	switch {
	case st.Phase == calibration.PhaseDone:
		resp.Type = "complete"
		resp.Results = st.Result
	case st.Phase == calibration.PhaseAborted:
		resp.Type = "error"
		resp.Results = st.Result
		if resp.Message == "" {
			resp.Message = string(st.Reason)
		}
	case st.Phase != prev.Phase || st.Cue != prev.Cue || st.Repetition != prev.Repetition:
		resp.Type = "phase"
	}
	return resp
}

// HandleCalibrationWS drives a guided session over a websocket: the client
// sends start/abort, the server pushes every status change.
func (s *Server) HandleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("calibration: websocket upgrade error", "err", err)
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go s.pushCalibration(conn, done)

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			slog.Debug("calibration: websocket closed", "err", err)
			return
		}

		switch msg.Action {
		case "start":
			id, err := s.engine.StartCalibration()
			if err != nil {
				conn.sendError(err.Error())
				continue
			}
			slog.Info("calibration: started from websocket", "session", id)
		case "abort", "cancel":
			if !s.engine.AbortCalibration() {
				conn.sendError("no calibration in progress")
			}
		default:
			conn.sendError("unknown action " + msg.Action)
		}
	}
}

func (s *Server) pushCalibration(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	var prev calibration.Status
	first := true
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		st := s.store.Snapshot().Calibration
		if !first && st.UpdatedAt.Equal(prev.UpdatedAt) && st.Phase == prev.Phase {
			continue
		}
		if err := conn.send(statusResponse(st, prev)); err != nil {
			slog.Debug("calibration: websocket write error", "err", err)
			return
		}
		prev = st
		first = false
	}
}

// SignalFrame is pushed on the signal socket.
type SignalFrame struct {
	Values     []float64 `json:"values"`
	Threshold  float64   `json:"threshold"`
	Armed      bool      `json:"armed"`
	EventCount uint64    `json:"event_count"`
	MainsRatio float64   `json:"mains_ratio"`
}

// HandleSignalWS streams the decimated filtered signal for live charts.
func (s *Server) HandleSignalWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("signal: websocket upgrade error", "err", err)
		return
	}
	conn := &wsConn{Conn: raw}
	defer conn.Close()

	// Reader goroutine notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
		}
		snap := s.store.Snapshot()
		frame := SignalFrame{
			Values:     s.store.Signal(signalPoints),
			Threshold:  snap.Threshold,
			Armed:      snap.Armed,
			EventCount: snap.EventCount,
			MainsRatio: snap.MainsRatio,
		}
		if err := conn.send(frame); err != nil {
			return
		}
	}
}
