// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package device

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
)

// MockDevice is an in-memory controller. Setters change the "physical"
// state; readers only see it after the next Poll, like a real device.
type MockDevice struct {
	mu       sync.Mutex
	info     Info
	physical State
	latched  State
	pollErr  error
	openErr  error
	polls    int
}

// NewMockDevice creates a device with all axes centred at zero and the given
// number of sliders.
func NewMockDevice(id, name string, sliders int) *MockDevice {
	d := &MockDevice{info: Info{ID: id, Name: name}}
	d.physical.Sliders = make([]int, sliders)
	d.latched.Sliders = make([]int, sliders)
	return d
}

func (d *MockDevice) Info() Info {
	return d.info
}

// Set writes a raw value to the channel addressed by sel. Writing a slider
// beyond the current count grows the slider list.
func (d *MockDevice) Set(sel axis.Selector, raw int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sel.IsSlider() {
		for len(d.physical.Sliders) <= sel.Index {
			d.physical.Sliders = append(d.physical.Sliders, 0)
		}
		d.physical.Sliders[sel.Index] = raw
		return
	}
	if sel.Index >= 0 && sel.Index < axis.AxisCount {
		d.physical.Axes[sel.Index] = raw
	}
}

// SetPollError makes every subsequent Poll fail with err (nil clears it).
func (d *MockDevice) SetPollError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollErr = err
}

// SetOpenError makes Open fail with err (nil clears it).
func (d *MockDevice) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openErr = err
}

// Polls returns how many times the device has been polled.
func (d *MockDevice) Polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

func (d *MockDevice) poll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.polls++
	if d.pollErr != nil {
		return d.pollErr
	}
	d.latched.Axes = d.physical.Axes
	d.latched.Sliders = append(d.latched.Sliders[:0], d.physical.Sliders...)
	return nil
}

func (d *MockDevice) state() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := State{Axes: d.latched.Axes}
	s.Sliders = append([]int(nil), d.latched.Sliders...)
	return s
}

// Drive moves the addressed channel through a full press/release cycle every
// period until ctx is done.
func (d *MockDevice) Drive(ctx context.Context, sel axis.Selector, period time.Duration) {
	start := time.Now()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			phase := 2 * math.Pi * t.Sub(start).Seconds() / period.Seconds()
			press := 0.5 - 0.5*math.Cos(phase)
			d.Set(sel, axis.RawMin+int(press*float64(axis.RawMax-axis.RawMin)))
		}
	}
}

// MockBackend serves MockDevices in insertion order.
type MockBackend struct {
	reg Registry

	mu      sync.Mutex
	devices []*MockDevice
	enumErr error
}

func NewMockBackend(devices ...*MockDevice) *MockBackend {
	return &MockBackend{devices: devices}
}

// Add connects another device.
func (b *MockBackend) Add(d *MockDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices = append(b.devices, d)
}

// Remove disconnects the device with the given id.
func (b *MockBackend) Remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, d := range b.devices {
		if d.info.ID == id {
			b.devices = append(b.devices[:i], b.devices[i+1:]...)
			return
		}
	}
}

// SetEnumerateError makes Enumerate fail with err.
func (b *MockBackend) SetEnumerateError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enumErr = err
}

// Held reports whether the device is currently open.
func (b *MockBackend) Held(id string) bool {
	return b.reg.Held(id)
}

func (b *MockBackend) Enumerate() ([]Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enumErr != nil {
		return nil, b.enumErr
	}
	infos := make([]Info, 0, len(b.devices))
	for _, d := range b.devices {
		infos = append(infos, d.info)
	}
	return Dedup(infos), nil
}

func (b *MockBackend) find(id string) *MockDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.devices {
		if d.info.ID == id {
			return d
		}
	}
	return nil
}

func (b *MockBackend) Open(id string) (Handle, error) {
	d := b.find(id)
	if d == nil {
		return nil, fmt.Errorf("device %q: %w", id, ErrNotFound)
	}
	d.mu.Lock()
	openErr := d.openErr
	d.mu.Unlock()
	if openErr != nil {
		return nil, fmt.Errorf("device %q: %w", id, openErr)
	}
	if err := b.reg.Acquire(id); err != nil {
		return nil, err
	}
	return &mockHandle{dev: d}, nil
}

func (b *MockBackend) Release(h Handle) error {
	mh, ok := h.(*mockHandle)
	if !ok {
		return fmt.Errorf("release: foreign handle %T", h)
	}
	mh.mu.Lock()
	defer mh.mu.Unlock()
	if mh.released {
		return nil
	}
	mh.released = true
	b.reg.Release(mh.dev.info.ID)
	return nil
}

type mockHandle struct {
	dev *MockDevice

	mu       sync.Mutex
	released bool
}

func (h *mockHandle) ID() string {
	return h.dev.info.ID
}

func (h *mockHandle) Poll() error {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return fmt.Errorf("device %q: %w: handle released", h.dev.info.ID, ErrUnavailable)
	}
	return h.dev.poll()
}

func (h *mockHandle) State() (State, error) {
	return h.dev.state(), nil
}

// NewDemoBackend returns a backend with a pedal set whose throttle, brake and
// clutch axes (X, Y, Z) move continuously, plus a handbrake on a slider.
// The motion stops when ctx is done.
func NewDemoBackend(ctx context.Context) *MockBackend {
	pedals := NewMockDevice("mock-pedals", "Mock Pedal Set", 0)
	for i := 0; i < 3; i++ {
		pedals.Set(axis.Ordinary(i), axis.RawMin)
	}
	handbrake := NewMockDevice("mock-handbrake", "Mock Handbrake", 1)
	handbrake.Set(axis.Slider(0), axis.RawMin)

	go pedals.Drive(ctx, axis.Ordinary(0), 3*time.Second)
	go pedals.Drive(ctx, axis.Ordinary(1), 4*time.Second)
	go pedals.Drive(ctx, axis.Ordinary(2), 7*time.Second)
	go handbrake.Drive(ctx, axis.Slider(0), 11*time.Second)

	return NewMockBackend(pedals, handbrake)
}
