// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided console calibration of the blink threshold for one user.
//
// The subject relaxes for a baseline capture, then blinks on each cue. The
// threshold is placed between the resting noise and the cued blink peaks,
// validated at rest, and written to the user's profile.
//
// Run:
//
//	go run ./cmd/calibration -user alice
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/blink_computer/internal/acquisition"
	"github.com/relabs-tech/blink_computer/internal/app"
	"github.com/relabs-tech/blink_computer/internal/calibration"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/pipeline"
	"github.com/relabs-tech/blink_computer/internal/profile"
	"github.com/relabs-tech/blink_computer/internal/store"
)

const statusPoll = 200 * time.Millisecond

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "./blink_config.txt", "Path to configuration file")
	user := flag.String("user", "", "User id for the stored profile (default USER_ID)")
	flag.Parse()

	fmt.Println("=== Guided Blink Calibration ===")
	fmt.Println("Follow the prompts: relax when told to, blink once on each BLINK cue.")
	fmt.Println()

	if err := config.InitGlobal(*configPath); err != nil {
		fatal(fmt.Errorf("failed to load config from %s: %w", *configPath, err))
	}
	cfg := config.Get()
	app.SetupLogging("warn")
	if *user != "" {
		cfg.UserID = *user
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, err := app.OpenProfileStore(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	src, err := acquisition.Open(cfg)
	if err != nil {
		fatal(err)
	}
	closeSrc := sync.OnceValue(src.Close)
	defer closeSrc()

	cues := app.Cues{calibration.CueFunc(printCue)}
	if syn, ok := src.(*acquisition.Synthetic); ok {
		cues = append(cues, syn)
	}
	if cfg.CueLightPin != "" {
		if light, err := app.OpenCueLight(cfg.CueLightPin); err == nil {
			defer light.Off()
			cues = append(cues, light)
		}
	}

	st := store.New(cfg.WindowSamples())
	engine, err := pipeline.New(cfg, st, pipeline.WithCue(cues))
	if err != nil {
		fatal(err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- engine.Run(ctx, src) }()
	go func() {
		<-ctx.Done()
		closeSrc()
	}()

	if !waitForSignal(ctx, st, runErr) {
		fatal(fmt.Errorf("no filtered signal from source %q", cfg.Source))
	}

	fmt.Printf("User: %s   source: %s   repetitions: %d\n\n", cfg.UserID, cfg.Source, cfg.CueRepetitions)
	waitEnter(in, "Sit still and relax your face. Press ENTER to start...")

	if _, err := engine.StartCalibration(); err != nil {
		fatal(err)
	}

	status, err := waitForSession(ctx, st, runErr)
	if err != nil {
		engine.AbortCalibration()
		fatal(err)
	}
	fmt.Println()

	if status.Phase != calibration.PhaseDone {
		msg := string(status.Reason)
		if status.Message != "" {
			msg += ": " + status.Message
		}
		printResult(status.Result)
		fatal(fmt.Errorf("calibration aborted (%s)", msg))
	}

	printResult(status.Result)

	p, err := profile.FromStatus(cfg.UserID, status)
	if err != nil {
		fatal(err)
	}
	if err := profiles.Save(ctx, p); err != nil {
		fatal(fmt.Errorf("failed to save profile: %w", err))
	}
	fmt.Printf("\nSaved profile for %s (threshold %.1f uV)\n", cfg.UserID, p.Threshold)

	if rs, ok := profiles.(*profile.RedisStore); ok {
		hist, err := rs.History(ctx, cfg.UserID, 6)
		if err == nil && len(hist) > 1 {
			fmt.Println("Previous sessions:")
			for _, h := range hist[1:] {
				fmt.Printf("  %s  %.1f uV\n", h.Timestamp.Format(time.DateTime), h.Threshold)
			}
		}
	}
}

func waitForSignal(ctx context.Context, st *store.Store, runErr <-chan error) bool {
	fmt.Print("Waiting for signal")
	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-runErr:
			return false
		case <-ticker.C:
			if st.Snapshot().HaveSample {
				fmt.Println(" ok")
				return true
			}
			fmt.Print(".")
		}
	}
}

func waitForSession(ctx context.Context, st *store.Store, runErr <-chan error) (calibration.Status, error) {
	ticker := time.NewTicker(statusPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return calibration.Status{}, ctx.Err()
		case err := <-runErr:
			return calibration.Status{}, fmt.Errorf("pipeline stopped: %v", err)
		case <-ticker.C:
		}

		status := st.Snapshot().Calibration
		if !status.Phase.Active() && status.SessionID != "" {
			return status, nil
		}
		fmt.Printf("\r  %-22s %s", status.Phase, progressBar(status.Progress, 30))
	}
}

func printCue(kind calibration.CueKind) {
	switch kind {
	case calibration.CueBlink:
		fmt.Print("\n>>> BLINK NOW! <<<\n")
	case calibration.CueRelax:
		fmt.Print("\n    relax...\n")
	}
}

func printResult(res *calibration.Result) {
	if res == nil {
		return
	}
	fmt.Printf("  noise  mean %.1f uV (sd %.1f, %d samples)\n", res.NoiseMean, res.NoiseStdDev, res.NoiseSamples)
	fmt.Printf("  blink  mean %.1f uV (sd %.1f, %d cues)\n", res.BlinkMean, res.BlinkStdDev, res.BlinkSamples)
	fmt.Printf("  threshold   %.1f uV (coefficient %.2f)\n", res.Threshold, res.Coefficient)
}

func progressBar(p float64, width int) string {
	n := int(p * float64(width))
	n = max(0, min(n, width))
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + fmt.Sprintf("] %3.0f%%", p*100)
}

// ---------- Console helpers ----------

func waitEnter(in *bufio.Reader, prompt string) {
	fmt.Print(prompt)
	_, _ = in.ReadString('\n')
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}
