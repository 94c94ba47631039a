// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/eval"
	"github.com/relabs-tech/blink_computer/internal/metrics"
	"github.com/relabs-tech/blink_computer/internal/pipeline"
	"github.com/relabs-tech/blink_computer/internal/store"
)

const (
	signalPoints = 1000
	pollInterval = 50 * time.Millisecond
)

// Server exposes the store and the engine controls over HTTP and websocket.
type Server struct {
	engine    *pipeline.Engine
	store     *store.Store
	schedule  eval.Schedule
	cue       calibration.Cue
	staticDir string

	mu         sync.Mutex
	runner     *eval.Runner
	cancelEval context.CancelFunc
}

func NewServer(engine *pipeline.Engine, st *store.Store, schedule eval.Schedule, cue calibration.Cue, staticDir string) *Server {
	return &Server{
		engine:    engine,
		store:     st,
		schedule:  schedule,
		cue:       cue,
		staticDir: staticDir,
		runner:    eval.NewRunner(schedule, cue),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/signal", s.handleSignal)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handlePostSettings)
	mux.HandleFunc("POST /api/control", s.handleControl)

	mux.HandleFunc("GET /api/calibration", s.handleCalibration)
	mux.HandleFunc("POST /api/calibration/start", s.handleCalibrationStart)
	mux.HandleFunc("POST /api/calibration/abort", s.handleCalibrationAbort)

	mux.HandleFunc("GET /api/evaluation", s.handleEvaluation)
	mux.HandleFunc("POST /api/evaluation/start", s.handleEvaluationStart)
	mux.HandleFunc("POST /api/evaluation/cancel", s.handleEvaluationCancel)
	mux.HandleFunc("POST /api/start_test", s.handleEvaluationStart)
	mux.HandleFunc("GET /api/stats", s.handleEvaluation)

	mux.HandleFunc("/ws/calibration", s.HandleCalibrationWS)
	mux.HandleFunc("/ws/signal", s.HandleSignalWS)

	mux.Handle("GET /metrics", promhttp.Handler())

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// ListenAndServe runs the server until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("web: server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	points := signalPoints
	if v := r.URL.Query().Get("points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "points must be a positive integer")
			return
		}
		points = min(n, signalPoints)
	}
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"values":    s.store.Signal(points),
		"threshold": snap.Threshold,
		"armed":     snap.Armed,
	})
}

// EventsResponse answers the pending-blink poll.
type EventsResponse struct {
	New   bool            `json:"new"`
	Count uint64          `json:"count"`
	Event *eeg.BlinkEvent `json:"event,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an event counter")
			return
		}
		since = n
	}

	snap, fresh := s.store.Poll(since)
	resp := EventsResponse{New: fresh, Count: snap.EventCount}
	if snap.EventCount > 0 {
		ev := snap.LastEvent
		resp.Event = &ev
	}
	writeJSON(w, http.StatusOK, resp)
}

// SettingsResponse mirrors the manual detection settings.
type SettingsResponse struct {
	ThresholdUV  float64 `json:"threshold_uv"`
	CooldownSecs float64 `json:"cooldown_secs"`
	Armed        bool    `json:"armed"`
	Detecting    bool    `json:"detecting"`
}

func (s *Server) settings() SettingsResponse {
	snap := s.store.Snapshot()
	return SettingsResponse{
		ThresholdUV:  snap.Threshold,
		CooldownSecs: snap.Cooldown.Seconds(),
		Armed:        snap.Armed,
		Detecting:    snap.Detecting,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings())
}

func (s *Server) handlePostSettings(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	if err := s.engine.UpdateSettings(req); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pipeline.ErrCalibrating) {
			status = http.StatusConflict
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.settings())
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	switch req.Action {
	case "start":
		s.engine.SetDetecting(true)
	case "stop":
		s.engine.SetDetecting(false)
	default:
		writeError(w, http.StatusBadRequest, "action must be start or stop")
		return
	}
	writeJSON(w, http.StatusOK, s.settings())
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.CalibrationStatus())
}

func (s *Server) handleCalibrationStart(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.StartCalibration(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.CalibrationStatus())
}

func (s *Server) handleCalibrationAbort(w http.ResponseWriter, r *http.Request) {
	if !s.engine.AbortCalibration() {
		writeError(w, http.StatusConflict, "no calibration in progress")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.CalibrationStatus())
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	runner := s.runner
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, runner.Status())
}

func (s *Server) handleEvaluationStart(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runner.Status().Active {
		writeError(w, http.StatusConflict, eval.ErrRunning.Error())
		return
	}

	runner := eval.NewRunner(s.schedule, s.cue)
	ctx, cancel := context.WithTimeout(context.Background(), s.schedule.Duration()+10*time.Second)
	s.runner = runner
	s.cancelEval = cancel

	go func() {
		defer cancel()
		res, err := runner.Run(ctx, s.store, pollInterval)
		if err != nil {
			slog.Warn("web: evaluation ended early", "err", err)
		}
		metrics.EvaluationScore.WithLabelValues("precision").Set(res.Precision)
		metrics.EvaluationScore.WithLabelValues("recall").Set(res.Recall)
		metrics.EvaluationScore.WithLabelValues("f1").Set(res.F1)
		slog.Info("web: evaluation finished", "tp", res.TP, "fp", res.FP, "fn", res.FN, "f1", res.F1)
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"started":          true,
		"total_cues":       s.schedule.Cues,
		"duration_seconds": s.schedule.Duration().Seconds(),
	})
}

func (s *Server) handleEvaluationCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancelEval
	runner := s.runner
	s.mu.Unlock()

	if cancel == nil || !runner.Status().Active {
		writeError(w, http.StatusConflict, "no evaluation in progress")
		return
	}
	cancel()
	runner.Cancel()
	writeJSON(w, http.StatusOK, runner.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("web: json encode error", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
