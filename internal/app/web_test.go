// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/eval"
	"github.com/relabs-tech/blink_computer/internal/pipeline"
	"github.com/relabs-tech/blink_computer/internal/store"
)

func newTestServer(t *testing.T) (*Server, *pipeline.Engine, *store.Store) {
	t.Helper()
	cfg := config.Default()
	st := store.New(cfg.WindowSamples())
	engine, err := pipeline.New(cfg, st)
	require.NoError(t, err)
	sched := eval.Schedule{Cues: 1, Relax: 20 * time.Millisecond, Blink: 20 * time.Millisecond}
	return NewServer(engine, st, sched, nil, ""), engine, st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestSettingsEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[SettingsResponse](t, rec)
	assert.False(t, got.Armed)
	assert.Equal(t, 0.3, got.CooldownSecs)

	rec = do(t, h, http.MethodPost, "/api/settings", `{"threshold_uv": 120.5, "cooldown_secs": 0.2}`)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[SettingsResponse](t, rec)
	assert.True(t, got.Armed)
	assert.Equal(t, 120.5, got.ThresholdUV)
	assert.Equal(t, 0.2, got.CooldownSecs)

	rec = do(t, h, http.MethodPost, "/api/settings", `{"cooldown_secs": -3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/settings", `{"cooldown_secs": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/settings", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRejectedWhileCalibrating(t *testing.T) {
	srv, engine, _ := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/calibration/start", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	st := decode[calibration.Status](t, rec)
	assert.Equal(t, calibration.PhaseBaseline, st.Phase)

	rec = do(t, h, http.MethodPost, "/api/calibration/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/settings", `{"threshold_uv": 50}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/calibration/abort", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, calibration.PhaseAborted, engine.CalibrationStatus().Phase)

	rec = do(t, h, http.MethodPost, "/api/calibration/abort", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestControlEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/control", `{"action":"stop"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, st.Snapshot().Detecting)

	rec = do(t, h, http.MethodPost, "/api/control", `{"action":"start"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, st.Snapshot().Detecting)

	rec = do(t, h, http.MethodPost, "/api/control", `{"action":"jump"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsPoll(t *testing.T) {
	srv, _, st := newTestServer(t)
	h := srv.Handler()

	got := decode[EventsResponse](t, do(t, h, http.MethodGet, "/api/events", ""))
	assert.False(t, got.New)
	assert.Nil(t, got.Event)

	st.PublishEvent(eeg.BlinkEvent{Index: 10, Amplitude: 80})
	st.PublishEvent(eeg.BlinkEvent{Index: 90, Amplitude: 95})

	got = decode[EventsResponse](t, do(t, h, http.MethodGet, "/api/events?since=1", ""))
	assert.True(t, got.New)
	assert.Equal(t, uint64(2), got.Count)
	require.NotNil(t, got.Event)
	assert.Equal(t, int64(90), got.Event.Index)

	got = decode[EventsResponse](t, do(t, h, http.MethodGet, "/api/events?since=2", ""))
	assert.False(t, got.New)

	rec := do(t, h, http.MethodGet, "/api/events?since=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignalEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t)
	h := srv.Handler()

	for i := 0; i < 400; i++ {
		st.PublishSample(eeg.FilteredSample{Index: int64(i), Value: float64(i)})
	}

	var body struct {
		Values []float64 `json:"values"`
	}
	rec := do(t, h, http.MethodGet, "/api/signal?points=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Values, 100)
	assert.Equal(t, 0.0, body.Values[0])

	rec = do(t, h, http.MethodGet, "/api/signal?points=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvaluationEndpoints(t *testing.T) {
	srv, _, st := newTestServer(t)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/start_test", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/evaluation/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// A blink during the blink window counts as a hit.
	require.Eventually(t, func() bool {
		return srv.runner.Status().Phase == eval.PhaseBlink
	}, 2*time.Second, 5*time.Millisecond)
	st.PublishEvent(eeg.BlinkEvent{Index: 1})

	require.Eventually(t, func() bool {
		return !srv.runner.Status().Active
	}, 2*time.Second, 5*time.Millisecond)

	status := decode[eval.Status](t, do(t, h, http.MethodGet, "/api/stats", ""))
	assert.Equal(t, eval.PhaseFinished, status.Phase)
	assert.Equal(t, 1, status.Result.TP)
	assert.Equal(t, 1.0, status.Result.F1)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blink_threshold_microvolts")
}

func TestCalibrationWebsocket(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/calibration"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "start"}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	sawBaseline := false
	for ctx.Err() == nil && !sawBaseline {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		sawBaseline = resp.Phase == calibration.PhaseBaseline
	}
	require.True(t, sawBaseline)

	require.NoError(t, conn.WriteJSON(WSMessage{Action: "abort"}))
	for ctx.Err() == nil {
		var resp WSResponse
		require.NoError(t, conn.ReadJSON(&resp))
		if resp.Type == "error" {
			assert.Equal(t, calibration.PhaseAborted, resp.Phase)
			assert.Equal(t, string(calibration.ReasonUserAbort), resp.Message)
			return
		}
	}
	t.Fatal("no abort message")
}

func TestStatusResponse(t *testing.T) {
	res := &calibration.Result{Threshold: 62}
	done := calibration.Status{Phase: calibration.PhaseDone, Result: res}
	resp := statusResponse(done, calibration.Status{Phase: calibration.PhaseValidation})
	assert.Equal(t, "complete", resp.Type)
	assert.Equal(t, res, resp.Results)

	cued := calibration.Status{Phase: calibration.PhaseCuedBlink, Cue: calibration.CueBlink, Repetition: 2, Repetitions: 4}
	resp = statusResponse(cued, calibration.Status{Phase: calibration.PhaseCuedBlink, Cue: calibration.CueRelax, Repetition: 1})
	assert.Equal(t, "phase", resp.Type)
	assert.Equal(t, 2, resp.Step)

	resp = statusResponse(cued, cued)
	assert.Equal(t, "progress", resp.Type)
}

func TestHandlerServesStatic(t *testing.T) {
	dir := t.TempDir()
	srv, _, _ := newTestServer(t)
	srv.staticDir = dir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>blink</h1>"), 0o644))

	rec := do(t, srv.Handler(), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("blink")))
}
