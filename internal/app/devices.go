// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
)

// AxisInfo is one channel of a device with its current reading.
type AxisInfo struct {
	Axis  axis.Selector `json:"axis"`
	Name  string        `json:"name"`
	Raw   int           `json:"raw"`
	Value float64       `json:"value"`
}

// DeviceAxes lists the channels of one enumerated device. Index is the
// ordinal stored in the configuration.
type DeviceAxes struct {
	Index int        `json:"index"`
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Busy  bool       `json:"busy,omitempty"`
	Error string     `json:"error,omitempty"`
	Axes  []AxisInfo `json:"axes,omitempty"`
}

// ListAxes opens every device in turn and reports its six axes and every
// slider. Devices that cannot be opened are listed with the error.
func ListAxes(b device.Backend) ([]DeviceAxes, error) {
	infos, err := b.Enumerate()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	infos = device.Dedup(infos)

	out := make([]DeviceAxes, 0, len(infos))
	for i, info := range infos {
		d := DeviceAxes{Index: i, ID: info.ID, Name: info.Name}
		st, err := snapshot(b, info.ID)
		if err != nil {
			d.Busy = errors.Is(err, device.ErrBusy)
			d.Error = err.Error()
			out = append(out, d)
			continue
		}
		for j, raw := range st.Axes {
			sel := axis.Ordinary(j)
			d.Axes = append(d.Axes, AxisInfo{Axis: sel, Name: sel.String(), Raw: raw, Value: axis.Normalize(raw)})
		}
		for j, raw := range st.Sliders {
			sel := axis.Slider(j)
			d.Axes = append(d.Axes, AxisInfo{Axis: sel, Name: sel.String(), Raw: raw, Value: axis.Normalize(raw)})
		}
		out = append(out, d)
	}
	return out, nil
}

func snapshot(b device.Backend, id string) (device.State, error) {
	h, err := b.Open(id)
	if err != nil {
		return device.State{}, err
	}
	defer func() {
		if err := b.Release(h); err != nil {
			log.Printf("devices: release %s: %v", id, err)
		}
	}()
	if err := h.Poll(); err != nil {
		return device.State{}, err
	}
	return h.State()
}

// PrintAxes writes a human readable listing of devs.
func PrintAxes(w io.Writer, devs []DeviceAxes) {
	if len(devs) == 0 {
		fmt.Fprintln(w, "No devices found. Please connect a controller.")
		return
	}
	for _, d := range devs {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.Index, d.Name, d.ID)
		if d.Error != "" {
			fmt.Fprintf(w, "    unavailable: %s\n", d.Error)
			continue
		}
		for _, a := range d.Axes {
			fmt.Fprintf(w, "    %-3d %-12s raw=%6d  %5.1f%%\n", a.Axis.Legacy(), a.Name, a.Raw, a.Value*100)
		}
	}
}
