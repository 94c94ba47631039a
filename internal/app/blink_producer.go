// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/blink_computer/internal/acquisition"
	"github.com/relabs-tech/blink_computer/internal/config"
	"github.com/relabs-tech/blink_computer/internal/eval"
	"github.com/relabs-tech/blink_computer/internal/pipeline"
	"github.com/relabs-tech/blink_computer/internal/store"
)

// consumerPoll is how often the UDP bridge polls the store.
const consumerPoll = 20 * time.Millisecond

// RunBlinkProducer runs acquisition, the pipeline and every configured
// consumer until ctx ends or one of them fails.
func RunBlinkProducer(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting blink producer", "source", cfg.Source, "user", cfg.UserID)

	if cfg.MQTTEmbedded {
		broker, err := StartBroker(cfg.MQTTEmbeddedAddr)
		if err != nil {
			return err
		}
		defer broker.Close()
	}

	profiles, err := OpenProfileStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("profile store: %w", err)
	}

	src, err := acquisition.Open(cfg)
	if err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}
	// Serial reads only return once the port closes.
	closeSrc := sync.OnceValue(src.Close)
	defer closeSrc()

	cues := Cues{LogCue}
	if syn, ok := src.(*acquisition.Synthetic); ok {
		cues = append(cues, syn)
	}
	if cfg.CueLightPin != "" {
		light, err := OpenCueLight(cfg.CueLightPin)
		if err != nil {
			slog.Warn("cue: light unavailable", "err", err)
		} else {
			defer light.Off()
			cues = append(cues, light)
		}
	}

	st := store.New(cfg.WindowSamples())
	engine, err := pipeline.New(cfg, st,
		pipeline.WithCue(cues),
		pipeline.WithStatusHook(SaveOnDone(profiles, cfg.UserID)),
	)
	if err != nil {
		return err
	}
	if th, ok := LoadThreshold(ctx, profiles, cfg.UserID); ok {
		engine.SetThreshold(th)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		if err := closeSrc(); err != nil {
			slog.Debug("source close", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		defer slog.Info("pipeline stopped")
		return engine.Run(ctx, src)
	})

	schedule := eval.Schedule{
		Cues:  cfg.EvalCues,
		Relax: time.Duration(cfg.EvalRelaxMS) * time.Millisecond,
		Blink: time.Duration(cfg.EvalBlinkMS) * time.Millisecond,
	}
	server := NewServer(engine, st, schedule, cues, cfg.WebStaticDir)
	g.Go(func() error {
		return server.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.WebServerPort))
	})

	if cfg.MQTTBroker != "" {
		pub, err := ConnectPublisher(cfg.MQTTBroker, cfg.MQTTClientIDProducer, Topics{
			Blink:  cfg.TopicBlink,
			Signal: cfg.TopicSignal,
			State:  cfg.TopicState,
		})
		if err != nil {
			slog.Warn("publisher: MQTT unavailable, continuing without it", "err", err)
		} else {
			defer pub.Close()
			g.Go(func() error { return ignoreCanceled(pub.Run(ctx, st, cfg.SignalPublishInterval())) })
		}
	}

	if cfg.UDPGameAddr != "" {
		bridge, err := DialGameBridge(cfg.UDPGameAddr)
		if err != nil {
			return err
		}
		defer bridge.Close()
		g.Go(func() error { return ignoreCanceled(bridge.Run(ctx, st, consumerPoll)) })
	}

	if cfg.DisplayEnabled {
		g.Go(func() error {
			if err := RunDisplay(ctx, st, cfg.DisplayUpdateInterval()); err != nil && ctx.Err() == nil {
				slog.Warn("display: stopped", "err", err)
			}
			return nil
		})
	}

	err = g.Wait()
	if status := st.Snapshot().Calibration; status.Phase.Active() {
		slog.Warn("shutdown during calibration", "phase", status.Phase)
	}
	return ignoreCanceled(err)
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
