// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/detect/main.go
//
// Guided pedal detection. For each requested pedal the tool asks you to
// release every control, then to press the pedal. The first axis or slider
// that moves is mapped to the pedal and written to the configuration file.
//
// Run:
//
//	go run ./cmd/detect                    # clutch, brake, throttle in turn
//	go run ./cmd/detect -channel brake     # one pedal only
//
// Notes:
//   - Other tools holding the devices (cmd/telemetry) must be stopped first,
//     devices are opened exclusively.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/relabs-tech/pedal_telemetry/internal/app"
	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/detect"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

func main() {
	in := bufio.NewReader(os.Stdin)

	configPath := flag.String("config", "pedal_config.txt", "Path to configuration file")
	channel := flag.String("channel", "", "Pedal to detect (clutch, brake, throttle); empty for all")
	flag.Parse()

	channels := pedals.Channels[:]
	if *channel != "" {
		ch, err := pedals.ParseChannel(*channel)
		if err != nil {
			fatal(err)
		}
		channels = []pedals.Channel{ch}
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := app.NewBackend(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	session := app.NewSession(backend, cfg, *configPath, nil)
	defer session.Close()

	fmt.Println("=== Guided Pedal Detection ===")
	fmt.Printf("Results are stored in %s\n", *configPath)
	fmt.Println()

	for _, ch := range channels {
		fmt.Printf("--- %s ---\n", ch)
		waitEnter(in, "Release all pedals, then press ENTER...")

		res, out, err := session.Detect(ctx, ch, func(status string) {
			fmt.Println(status)
		})
		if err != nil {
			fatal(err)
		}
		switch out {
		case detect.Detected:
			fmt.Printf("%s -> [%d] %s, %s\n\n", ch, res.DeviceIndex, res.DeviceName, res.Axis)
		case detect.Cancelled:
			fmt.Println("Detection cancelled.")
			return
		default:
			fmt.Printf("%s not detected (%s), mapping unchanged.\n\n", ch, out)
		}
	}

	final := session.Config()
	fmt.Println("=== Mapping ===")
	for _, ch := range pedals.Channels {
		dev := "unmapped"
		if p := final.Device(ch); p != nil {
			dev = fmt.Sprintf("device %d", *p)
		}
		fmt.Printf("%-8s %s, %s\n", ch, dev, final.Axis(ch))
	}
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
