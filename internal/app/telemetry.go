// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

// RunTelemetry polls the configured pedals and serves them over HTTP,
// MQTT (when MQTT_BROKER is set) and the OLED (when DISPLAY_ENABLED).
func RunTelemetry() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	log.Printf("telemetry: using %s backend", cfg.Backend)

	session := NewSession(backend, cfg, config.Path(), nil)
	if err := session.Start(); err != nil {
		log.Printf("telemetry: %v", err)
	}
	defer session.Close()

	if cfg.MQTTBroker != "" {
		pub, err := NewPublisher(cfg)
		if err != nil {
			log.Printf("telemetry: MQTT disabled: %v", err)
		} else {
			unsubscribe := session.Subscribe(pub.PublishSample)
			session.OnDetection(pub.PublishDetection)
			defer func() {
				unsubscribe()
				pub.Close()
			}()
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	if cfg.DisplayEnabled {
		disp, err := OpenDisplay()
		if err != nil {
			log.Printf("telemetry: display disabled: %v", err)
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer disp.Close()
				interval := time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond
				disp.Run(ctx, interval, func() (pedals.Sample, bool) {
					return session.Poller.Last(), true
				})
			}()
		}
	}

	err = RunWeb(ctx, cfg, session)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	// the display goroutine only exits on ctx
	stop()
	log.Println("telemetry: shutting down")
	return err
}
