// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/blink_computer/internal/acquisition"
	"github.com/relabs-tech/blink_computer/internal/app"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eeg"
)

var (
	flagConfig    string
	flagThreshold float64
	flagCues      string
	flagWindow    time.Duration
	flagJSON      bool

	flagOut      string
	flagCuesOut  string
	flagDuration time.Duration
	flagEvery    time.Duration
	flagSeed     int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "replay",
		Short: "Offline blink detection on recorded EEG",
		Long: `Replay runs CSV recordings (index,channel_a_uv,channel_b_uv) through the
same preprocessing and detection pipeline as the live producer, and scores the
detected blinks against cue indices.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "./blink_config.txt", "path to configuration file")

	runCmd := &cobra.Command{
		Use:   "run <recording.csv>",
		Short: "Detect blinks in a recording and optionally score them",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	runCmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "detection threshold in uV (default INITIAL_THRESHOLD_UV)")
	runCmd.Flags().StringVar(&flagCues, "cues", "", "CSV of cue tick indices to score against")
	runCmd.Flags().DurationVar(&flagWindow, "window", 1500*time.Millisecond, "matching window after each cue")
	runCmd.Flags().BoolVar(&flagJSON, "json", false, "print the report as JSON")

	genCmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic recording with periodic blinks and its cue file",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
	genCmd.Flags().StringVar(&flagOut, "out", "recording.csv", "recording output path")
	genCmd.Flags().StringVar(&flagCuesOut, "cues-out", "cues.csv", "cue index output path")
	genCmd.Flags().DurationVar(&flagDuration, "duration", time.Minute, "recording length")
	genCmd.Flags().DurationVar(&flagEvery, "every", 3*time.Second, "blink period")
	genCmd.Flags().Int64Var(&flagSeed, "seed", 1, "noise seed")

	rootCmd.AddCommand(runCmd, genCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.InitGlobal(flagConfig); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.Get()
	app.SetupLogging(cfg.LogLevel)
	return cfg, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	src, err := acquisition.OpenReplay(args[0], cfg.SampleRate, false)
	if err != nil {
		return err
	}
	defer src.Close()
	src.SetStart(app.ReplayEpoch)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := app.RunReplay(ctx, cfg, src, flagThreshold)
	if err != nil {
		return err
	}

	if flagCues != "" {
		f, err := os.Open(flagCues)
		if err != nil {
			return fmt.Errorf("failed to open cues: %w", err)
		}
		defer f.Close()
		cues, err := acquisition.ReadCues(f)
		if err != nil {
			return err
		}
		report.ScoreCues(cues, cfg.SamplePeriod(), flagWindow)
	}

	if flagJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "frames:  %d (dropped %d)\n", report.Frames, report.Dropped)
	fmt.Fprintf(out, "blinks:  %d\n", len(report.Events))
	for _, ev := range report.Events {
		fmt.Fprintf(out, "  #%-4d index %-8d t=%7.3fs  %.1f uV\n",
			ev.Counter, ev.Index, ev.Time.Sub(app.ReplayEpoch).Seconds(), ev.Amplitude)
	}
	if s := report.Score; s != nil {
		fmt.Fprintf(out, "score:   TP %d  FP %d  FN %d  precision %.2f  recall %.2f  F1 %.2f\n",
			s.TP, s.FP, s.FN, s.Precision, s.Recall, s.F1)
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	synCfg := acquisition.DefaultSynthetic(cfg.SampleRate, cfg.MainsHz)
	synCfg.Realtime = false
	synCfg.BlinkEvery = flagEvery
	synCfg.Seed = flagSeed
	synCfg.Start = app.ReplayEpoch
	syn := acquisition.NewSynthetic(synCfg)

	n := int64(flagDuration.Seconds() * cfg.SampleRate)
	frames := make([]eeg.RawFrame, 0, n)
	ctx := context.Background()
	for i := int64(0); i < n; i++ {
		f, err := syn.Next(ctx)
		if err != nil {
			return err
		}
		frames = append(frames, f)
	}

	if err := writeFile(flagOut, func(f *os.File) error { return acquisition.WriteCSV(f, frames) }); err != nil {
		return err
	}

	// Cue each blink one reaction time before its peak.
	reaction := int64(synCfg.Reaction.Seconds() * cfg.SampleRate)
	var cues []int64
	for _, peak := range syn.BlinkIndices(n) {
		cues = append(cues, max(0, peak-reaction))
	}
	if err := writeFile(flagCuesOut, func(f *os.File) error { return acquisition.WriteCues(f, cues) }); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d frames to %s and %d cues to %s\n", len(frames), flagOut, len(cues), flagCuesOut)
	return nil
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
