package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/detect"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pedals.conf")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
# pedals
CLUTCH_DEVICE=1
BRAKE_DEVICE=
THROTTLE_DEVICE=0
CLUTCH_AXIS=100
THROTTLE_AXIS=5
TRACE_SECONDS=8
BACKEND=Serial
SERIAL_PORT=/dev/ttyACM0
DETECT_THRESHOLD=5000
DETECT_SETTLE=0
DISPLAY_ENABLED=true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.ClutchDevice)
	assert.Equal(t, 1, *cfg.ClutchDevice)
	assert.Nil(t, cfg.BrakeDevice)
	assert.Equal(t, axis.Slider(0), cfg.Axis(pedals.Clutch))
	assert.Equal(t, axis.Ordinary(1), cfg.Axis(pedals.Brake), "default brake axis")
	assert.Equal(t, axis.Ordinary(5), cfg.Axis(pedals.Throttle))
	assert.Equal(t, 8*time.Second, cfg.Trace())
	assert.Equal(t, BackendSerial, cfg.Backend)
	assert.Equal(t, 16*time.Millisecond, cfg.Poll())
	assert.True(t, cfg.DisplayEnabled)

	dc := cfg.Detection()
	assert.Equal(t, 5000, dc.Threshold)
	assert.Equal(t, 10*time.Second, dc.Timeout)
	assert.Equal(t, detect.NoSettle, dc.SettleDelay, "DETECT_SETTLE=0 disables the settle wait")
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing equals", "BACKEND mock\n"},
		{"unknown key", "FOO=1\n"},
		{"bad axis gap", "CLUTCH_AXIS=42\n"},
		{"negative ordinal", "BRAKE_DEVICE=-1\n"},
		{"bad backend", "BACKEND=directinput\n"},
		{"serial without port", "BACKEND=serial\n"},
		{"bad color", "COLOR_BRAKE=teal\n"},
		{"zero trace", "TRACE_SECONDS=0\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}

func TestLoadOrDefault(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Defaults()
	cfg.ApplyDetection(pedals.Brake, detect.Result{DeviceID: "x", DeviceIndex: 2, Axis: axis.Slider(1)})
	cfg.MQTTBroker = "tcp://localhost:1883"
	cfg.DisplayEnabled = true

	path := filepath.Join(t.TempDir(), "pedals.conf")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	require.NotNil(t, loaded.BrakeDevice)
	assert.Equal(t, 2, *loaded.BrakeDevice)
	assert.Equal(t, 101, loaded.BrakeAxis)
}

func TestResolveDevices(t *testing.T) {
	t.Parallel()

	zero, five := 0, 5
	cfg := Defaults()
	cfg.SetMapping(pedals.Clutch, &five, axis.Ordinary(2))
	cfg.SetMapping(pedals.Throttle, &zero, axis.Slider(0))

	infos := []device.Info{{ID: "pedals", Name: "Pedals"}, {ID: "wheel", Name: "Wheel"}}
	m := cfg.ResolveDevices(infos)

	assert.Equal(t, pedals.Mapping{Axis: axis.Ordinary(2)}, m[pedals.Clutch], "ordinal out of range")
	assert.Equal(t, pedals.Mapping{Axis: axis.Ordinary(1)}, m[pedals.Brake], "unmapped")
	assert.Equal(t, pedals.Mapping{DeviceID: "pedals", Axis: axis.Slider(0)}, m[pedals.Throttle])
}

func TestColors(t *testing.T) {
	t.Parallel()

	c, err := ParseColor("#4ECDC4")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 0x4e, G: 0xcd, B: 0xc4, A: 0xff}, c)

	_, err = ParseColor("#4ECDC")
	assert.Error(t, err)

	cfg := Defaults()
	cfg.ColorThrottle = "nope"
	colors := cfg.Colors()
	assert.Equal(t, color.RGBA{R: 0xff, G: 0x6b, B: 0x6b, A: 0xff}, colors[pedals.Clutch])
	assert.Equal(t, color.White, colors[pedals.Throttle])
	assert.Equal(t, "#4ECDC4", cfg.ColorStrings()[pedals.Brake])

	require.NoError(t, cfg.SetColor(pedals.Throttle, "#a1b2c3"))
	assert.Equal(t, "#A1B2C3", cfg.ColorThrottle)
	assert.Error(t, cfg.SetColor(pedals.Brake, "red"))
	assert.Equal(t, "#4ECDC4", cfg.ColorBrake, "rejected colors leave the old value")
}
