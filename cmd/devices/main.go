// ./cmd/devices/main.go
//
// Lists every connected controller with its six axes and sliders, including
// the integer axis codes used by CLUTCH_AXIS, BRAKE_AXIS and THROTTLE_AXIS.
//
// Run:
//
//	go run ./cmd/devices -config pedal_config.txt
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/relabs-tech/pedal_telemetry/internal/app"
	"github.com/relabs-tech/pedal_telemetry/internal/config"
)

func main() {
	configPath := flag.String("config", "pedal_config.txt", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := app.NewBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}

	devs, err := app.ListAxes(backend)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	app.PrintAxes(os.Stdout, devs)
}
