// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build linux

package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kenshaw/evdev"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/monitoring"
)

// Linux ABS_* codes for the six ordinary axes.
var evdevAxes = [axis.AxisCount]evdev.AbsoluteType{0x00, 0x01, 0x02, 0x03, 0x04, 0x05}

// ABS_THROTTLE, ABS_RUDDER, ABS_WHEEL, ABS_GAS, ABS_BRAKE become sliders, in
// this order, when the device reports them.
var evdevSliders = []evdev.AbsoluteType{0x06, 0x07, 0x08, 0x09, 0x0a}

// EvdevBackend reads joysticks, wheels and pedal sets through the Linux
// input subsystem.
type EvdevBackend struct {
	// Pattern selects candidate event nodes.
	Pattern string

	reg Registry
}

func NewEvdevBackend() *EvdevBackend {
	return &EvdevBackend{Pattern: "/dev/input/event*"}
}

func hasAnalog(abs map[evdev.AbsoluteType]evdev.Axis) bool {
	for _, code := range evdevAxes {
		if _, ok := abs[code]; ok {
			return true
		}
	}
	for _, code := range evdevSliders {
		if _, ok := abs[code]; ok {
			return true
		}
	}
	return false
}

func (b *EvdevBackend) Enumerate() ([]Info, error) {
	paths, err := filepath.Glob(b.Pattern)
	if err != nil {
		return nil, fmt.Errorf("evdev: glob %q: %w", b.Pattern, err)
	}
	sort.Strings(paths)

	var infos []Info
	for _, path := range paths {
		d, err := evdev.OpenFile(path)
		if err != nil {
			// permission denied on unrelated nodes is common
			continue
		}
		if hasAnalog(d.AbsoluteTypes()) {
			infos = append(infos, Info{ID: path, Name: d.Name()})
		}
		d.Close()
	}
	return Dedup(infos), nil
}

func (b *EvdevBackend) Open(id string) (Handle, error) {
	if err := b.reg.Acquire(id); err != nil {
		return nil, err
	}
	d, err := evdev.OpenFile(id)
	if err != nil {
		b.reg.Release(id)
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("evdev %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("evdev %s: %w: %v", id, ErrUnavailable, err)
	}
	// An exclusive grab fails while another process (or another handle of
	// ours) holds the device.
	if err := d.Lock(); err != nil {
		d.Close()
		b.reg.Release(id)
		return nil, fmt.Errorf("evdev %s: %w: %v", id, ErrBusy, err)
	}

	h := &evdevHandle{id: id, dev: d}
	abs := d.AbsoluteTypes()
	for _, code := range evdevSliders {
		if _, ok := abs[code]; ok {
			h.sliders = append(h.sliders, code)
		}
	}
	h.latch(abs)
	monitoring.Logf("evdev: opened %s (%s) with %d sliders", id, d.Name(), len(h.sliders))
	return h, nil
}

func (b *EvdevBackend) Release(h Handle) error {
	eh, ok := h.(*evdevHandle)
	if !ok {
		return fmt.Errorf("release: foreign handle %T", h)
	}
	eh.mu.Lock()
	defer eh.mu.Unlock()
	if eh.closed {
		return nil
	}
	eh.closed = true
	defer b.reg.Release(eh.id)
	if err := eh.dev.Unlock(); err != nil {
		monitoring.Logf("evdev: ungrab %s: %v", eh.id, err)
	}
	return eh.dev.Close()
}

type evdevHandle struct {
	id      string
	dev     *evdev.Evdev
	sliders []evdev.AbsoluteType

	mu     sync.Mutex
	closed bool
	state  State
}

func (h *evdevHandle) ID() string {
	return h.id
}

// scale maps a device-specific [min, max] reading onto the signed 16-bit
// range the normalizer expects.
func scale(a evdev.Axis) int {
	span := int64(a.Max) - int64(a.Min)
	if span <= 0 {
		return 0
	}
	return axis.RawMin + int((int64(a.Val)-int64(a.Min))*65535/span)
}

func (h *evdevHandle) latch(abs map[evdev.AbsoluteType]evdev.Axis) {
	var s State
	for i, code := range evdevAxes {
		if a, ok := abs[code]; ok {
			s.Axes[i] = scale(a)
		}
	}
	s.Sliders = make([]int, len(h.sliders))
	for i, code := range h.sliders {
		s.Sliders[i] = scale(abs[code])
	}
	h.state = s
}

func (h *evdevHandle) Poll() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("evdev %s: %w: handle released", h.id, ErrUnavailable)
	}
	if _, err := os.Stat(h.id); err != nil {
		return fmt.Errorf("evdev %s: %w: %v", h.id, ErrUnavailable, err)
	}
	abs := h.dev.AbsoluteTypes()
	if len(abs) == 0 {
		return fmt.Errorf("evdev %s: %w: no absolute axes reported", h.id, ErrUnavailable)
	}
	h.latch(abs)
	return nil
}

func (h *evdevHandle) State() (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.state
	s.Sliders = append([]int(nil), h.state.Sliders...)
	return s, nil
}
