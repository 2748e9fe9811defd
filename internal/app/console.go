// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

var barLabels = [pedals.ChannelCount]string{"CLU", "BRK", "THR"}

// bar renders v in [0, 1] as a fixed width gauge.
func bar(v float64, width int) string {
	v = math.Min(math.Max(v, 0), 1)
	n := int(math.Round(v * float64(width)))
	return "[" + strings.Repeat("#", n) + strings.Repeat(".", width-n) + "]"
}

// FormatBars renders one line with a gauge and percentage per channel.
func FormatBars(s pedals.Sample, width int) string {
	parts := make([]string, 0, pedals.ChannelCount)
	for _, ch := range pedals.Channels {
		v := s.Get(ch)
		parts = append(parts, fmt.Sprintf("%s %s %3.0f%%", barLabels[ch], bar(v, width), v*100))
	}
	return strings.Join(parts, "  ")
}

// RunConsole polls the configured pedals and prints bars until interrupted.
func RunConsole() error {
	cfg := config.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	session := NewSession(backend, cfg, "", nil)
	if err := session.Start(); err != nil {
		log.Printf("console: %v", err)
	}
	defer session.Close()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("console: shutting down")
			return nil
		case <-ticker.C:
			fmt.Println(FormatBars(session.Poller.Last(), 20))
		}
	}
}
