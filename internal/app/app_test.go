// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/blink_computer/internal/acquisition"
	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/control"
	"github.com/relabs-tech/blink_computer/internal/eeg"
	"github.com/relabs-tech/blink_computer/internal/profile"
	"github.com/relabs-tech/blink_computer/internal/store"
)

func TestGameBridgeSendsOneDatagramPerEvent(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	bridge, err := DialGameBridge(pc.LocalAddr().String())
	require.NoError(t, err)
	defer bridge.Close()

	st := store.New(10)
	st.PublishEvent(eeg.BlinkEvent{}) // before the bridge starts, never sent

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bridge.Run(ctx, st, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	st.PublishEvent(eeg.BlinkEvent{})
	st.PublishEvent(eeg.BlinkEvent{})

	buf := make([]byte, 64)
	for i := 0; i < 2; i++ {
		require.NoError(t, pc.SetReadDeadline(time.Now().Add(time.Second)))
		n, _, err := pc.ReadFrom(buf)
		require.NoError(t, err)
		assert.Equal(t, GameEventBlink, string(buf[:n]))
	}

	require.NoError(t, pc.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = pc.ReadFrom(buf)
	assert.Error(t, err, "no third datagram")
}

func TestBrokerAndPublisher(t *testing.T) {
	const addr = "127.0.0.1:18831"
	broker, err := StartBroker(addr)
	require.NoError(t, err)
	defer broker.Close()

	topics := Topics{Blink: "test/blink", Signal: "test/signal", State: "test/state"}
	pub, err := ConnectPublisher("tcp://"+addr, "test-producer", topics)
	require.NoError(t, err)
	defer pub.Close()

	sub := mqtt.NewClient(mqtt.NewClientOptions().AddBroker("tcp://" + addr).SetClientID("test-sub"))
	token := sub.Connect()
	require.True(t, token.WaitTimeout(2*time.Second))
	require.NoError(t, token.Error())
	defer sub.Disconnect(100)

	blinks := make(chan eeg.BlinkEvent, 4)
	states := make(chan StateMessage, 16)
	require.NoError(t, SubscribeJSON(sub, topics.Blink, func(ev eeg.BlinkEvent) { blinks <- ev }))
	require.NoError(t, SubscribeJSON(sub, topics.State, func(s StateMessage) { states <- s }))

	st := store.New(10)
	st.SetThreshold(70, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx, st, 10*time.Millisecond)

	select {
	case s := <-states:
		assert.Equal(t, 70.0, s.Threshold)
		assert.True(t, s.Armed)
	case <-time.After(2 * time.Second):
		t.Fatal("no state message")
	}

	st.PublishEvent(eeg.BlinkEvent{Index: 42, Amplitude: 88})
	select {
	case ev := <-blinks:
		assert.Equal(t, uint64(1), ev.Counter)
		assert.Equal(t, int64(42), ev.Index)
	case <-time.After(2 * time.Second):
		t.Fatal("no blink message")
	}
}

func TestDisplayLines(t *testing.T) {
	snap := store.Snapshot{HaveSample: true, Detecting: true, EventCount: 7}
	lines := DisplayLines(snap, control.Right)
	assert.Equal(t, "TH: not set", lines[0])
	assert.Equal(t, "DETECTING", lines[1])
	assert.Equal(t, "BLINKS:     7", lines[2])
	assert.Equal(t, "DIR: right", lines[3])

	snap.Armed = true
	snap.Threshold = 62.3
	snap.Calibration = calibration.Status{Phase: calibration.PhaseValidation, Progress: 0.5}
	lines = DisplayLines(snap, control.Left)
	assert.Equal(t, "TH:  62.3 uV", lines[0])
	assert.Equal(t, "CAL VAL  50%", lines[1])
}

func TestRenderStatusDrawsText(t *testing.T) {
	img := RenderStatus([4]string{"TH:  62.2 uV", "", "", ""})
	assert.Equal(t, 128, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())

	lit := 0
	for y := 0; y < 16; y++ {
		for x := 0; x < 128; x++ {
			if img.BitAt(x, y) == image1bit.On {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 20)

	for y := 16; y < 64; y++ {
		for x := 0; x < 128; x++ {
			require.Equal(t, image1bit.Off, img.BitAt(x, y))
		}
	}
}

func TestConsoleModel(t *testing.T) {
	m := NewConsoleModel("tcp://pi:1883")
	assert.Contains(t, m.View(), "waiting for producer state")

	next, _ := m.Update(stateMsg{Threshold: 55, Armed: true, EventCount: 3, Detecting: true})
	next, _ = next.Update(blinkMsg{Counter: 4, Amplitude: 91})
	view := next.View()
	assert.Contains(t, view, "55.0 uV")
	assert.Contains(t, view, "#4 91.0 uV")
	// Seeded at 3, one new blink flips the direction.
	assert.Contains(t, view, "right")

	_, cmd := next.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
}

func TestRunReplayScoresSyntheticBlinks(t *testing.T) {
	cfg := config.Default()
	cfg.CooldownMS = 500
	synCfg := acquisition.DefaultSynthetic(cfg.SampleRate, cfg.MainsHz)
	synCfg.Realtime = false
	synCfg.BlinkEvery = 3 * time.Second
	synCfg.Start = ReplayEpoch
	syn := acquisition.NewSynthetic(synCfg)

	n := int64(15 * cfg.SampleRate)
	src := &limitedSource{RawSource: syn, n: n}

	report, err := RunReplay(context.Background(), cfg, src, 15)
	require.NoError(t, err)
	assert.Equal(t, int(n), report.Frames)
	assert.Len(t, report.Events, 5)

	reaction := int64(75)
	var cues []int64
	for _, peak := range syn.BlinkIndices(n) {
		cues = append(cues, peak-reaction)
	}
	res := report.ScoreCues(cues, cfg.SamplePeriod(), 1500*time.Millisecond)
	assert.Equal(t, 5, res.TP)
	assert.Zero(t, res.FP)
	assert.Zero(t, res.FN)
	require.NotNil(t, report.Score)
}

type limitedSource struct {
	eeg.RawSource
	n int64
}

func (l *limitedSource) Next(ctx context.Context) (eeg.RawFrame, error) {
	f, err := l.RawSource.Next(ctx)
	if err == nil && f.Index >= l.n {
		return eeg.RawFrame{}, io.EOF
	}
	return f, err
}

func TestSaveOnDonePersistsProfile(t *testing.T) {
	profiles, err := profile.NewFileStore(t.TempDir())
	require.NoError(t, err)

	hook := SaveOnDone(profiles, "alice")
	hook(calibration.Status{Phase: calibration.PhaseValidation})
	hook(calibration.Status{
		SessionID: "s-1",
		Phase:     calibration.PhaseDone,
		Result:    &calibration.Result{Threshold: 61.5, NoiseMean: 4, BlinkMean: 100},
	})

	require.Eventually(t, func() bool {
		th, ok := LoadThreshold(context.Background(), profiles, "alice")
		return ok && th == 61.5
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := LoadThreshold(context.Background(), profiles, "bob")
	assert.False(t, ok)
}

func TestCuesFanOut(t *testing.T) {
	var a, b []calibration.CueKind
	cues := Cues{
		calibration.CueFunc(func(k calibration.CueKind) { a = append(a, k) }),
		calibration.CueFunc(func(k calibration.CueKind) { b = append(b, k) }),
	}
	cues.Show(calibration.CueBlink)
	cues.Show(calibration.CueOff)
	assert.Equal(t, []calibration.CueKind{calibration.CueBlink, calibration.CueOff}, a)
	assert.Equal(t, a, b)
}
