package app

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

func TestFormatBars(t *testing.T) {
	t.Parallel()

	got := FormatBars(pedals.Sample{Clutch: 0, Brake: 0.5, Throttle: 1.2}, 10)
	assert.Equal(t, "CLU [..........]   0%  BRK [#####.....]  50%  THR [##########] 120%", got)
}

func TestListAxes(t *testing.T) {
	t.Parallel()

	a := device.NewMockDevice("a", "Pedals", 0)
	a.Set(axis.Ordinary(1), axis.RawMin)
	b := device.NewMockDevice("b", "Handbrake", 2)
	backend := device.NewMockBackend(a, b)

	held, err := backend.Open("b")
	require.NoError(t, err)

	devs, err := ListAxes(backend)
	require.NoError(t, err)
	require.Len(t, devs, 2)

	assert.Equal(t, 0, devs[0].Index)
	require.Len(t, devs[0].Axes, axis.AxisCount)
	assert.Equal(t, "Y Axis", devs[0].Axes[1].Name)
	assert.Equal(t, axis.RawMin, devs[0].Axes[1].Raw)
	assert.Zero(t, devs[0].Axes[1].Value)
	assert.False(t, backend.Held("a"), "listing releases what it opened")

	assert.True(t, devs[1].Busy)
	assert.NotEmpty(t, devs[1].Error)
	assert.Empty(t, devs[1].Axes)

	var buf bytes.Buffer
	PrintAxes(&buf, devs)
	out := buf.String()
	assert.Contains(t, out, "[0] Pedals (a)")
	assert.Contains(t, out, "Y Axis")
	assert.Contains(t, out, "[1] Handbrake (b)")
	assert.Contains(t, out, "unavailable:")

	require.NoError(t, backend.Release(held))
	devs, err = ListAxes(backend)
	require.NoError(t, err)
	require.Len(t, devs[1].Axes, axis.AxisCount+2)
	assert.Equal(t, 101, devs[1].Axes[7].Axis.Legacy())

	backend.SetEnumerateError(errors.New("bus gone"))
	_, err = ListAxes(backend)
	assert.Error(t, err)

	buf.Reset()
	PrintAxes(&buf, nil)
	assert.Contains(t, buf.String(), "No devices found")
}

func TestPedalImage(t *testing.T) {
	t.Parallel()

	on := func(img *image1bit.VerticalLSB, x, y int) bool {
		return img.At(x, y) == image1bit.On
	}

	img := pedalImage(pedals.Sample{Clutch: 1, Brake: 0, Throttle: 0.5}, true)
	mid := func(ch pedals.Channel) int { return 4 + int(ch)*(barHeight+6) + barHeight/2 }

	assert.True(t, on(img, barLeft, mid(pedals.Clutch)), "outline")
	assert.True(t, on(img, barRight-2, mid(pedals.Clutch)), "full bar")
	assert.False(t, on(img, barLeft+2, mid(pedals.Brake)), "empty bar")
	assert.True(t, on(img, barLeft+10, mid(pedals.Throttle)))
	assert.False(t, on(img, barRight-10, mid(pedals.Throttle)))

	waiting := pedalImage(pedals.Sample{}, false)
	assert.False(t, on(waiting, barLeft, mid(pedals.Clutch)))
}
