package app

import (
	"context"
	"fmt"

	"github.com/relabs-tech/pedal_telemetry/internal/config"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
)

// NewBackend builds the device backend named by cfg.Backend. The mock
// backend animates its devices until ctx is done.
func NewBackend(ctx context.Context, cfg *config.Config) (device.Backend, error) {
	switch cfg.Backend {
	case config.BackendMock, "":
		return device.NewDemoBackend(ctx), nil
	case config.BackendEvdev:
		return device.NewEvdevBackend(), nil
	case config.BackendSerial:
		return device.NewSerialBackend(device.SerialPort{
			Path:     cfg.SerialPort,
			BaudRate: uint(cfg.SerialBaudRate),
		}), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
