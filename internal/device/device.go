// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package device defines the controller backend consumed by the sampler and
// the detector, plus the concrete backends (mock, evdev, serial).
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
)

var (
	// ErrUnavailable covers every recoverable device failure: busy,
	// disconnected, permission denied.
	ErrUnavailable = errors.New("device unavailable")

	// ErrBusy is returned when a device is already held by another owner.
	ErrBusy = fmt.Errorf("%w: already held", ErrUnavailable)

	// ErrNotFound is returned when a device id is not connected.
	ErrNotFound = fmt.Errorf("%w: not found", ErrUnavailable)
)

// Info describes an enumerated device.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is a snapshot of a device's raw analog channels.
type State struct {
	Axes    [axis.AxisCount]int `json:"axes"`
	Sliders []int               `json:"sliders,omitempty"`
}

// Raw returns the raw value addressed by sel and whether the device has it.
func (s State) Raw(sel axis.Selector) (int, bool) {
	if sel.IsSlider() {
		if sel.Index < 0 || sel.Index >= len(s.Sliders) {
			return 0, false
		}
		return s.Sliders[sel.Index], true
	}
	if sel.Index < 0 || sel.Index >= axis.AxisCount {
		return 0, false
	}
	return s.Axes[sel.Index], true
}

// Handle is an exclusively owned, opened device.
type Handle interface {
	ID() string
	// Poll refreshes the device state. State returns whatever the last
	// Poll latched.
	Poll() error
	State() (State, error)
}

// Backend enumerates and opens devices. Open must fail with ErrBusy rather
// than alias a handle when the device is already held.
type Backend interface {
	Enumerate() ([]Info, error)
	Open(id string) (Handle, error)
	Release(h Handle) error
}

// Dedup drops repeated ids, keeping first-seen order so ordinals stay stable.
func Dedup(infos []Info) []Info {
	seen := make(map[string]bool, len(infos))
	out := make([]Info, 0, len(infos))
	for _, in := range infos {
		if seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		out = append(out, in)
	}
	return out
}

// Registry tracks exclusive ownership of device ids within a backend.
type Registry struct {
	mu   sync.Mutex
	held map[string]bool
}

// Acquire marks id as held, or fails with ErrBusy.
func (r *Registry) Acquire(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		r.held = make(map[string]bool)
	}
	if r.held[id] {
		return fmt.Errorf("device %q: %w", id, ErrBusy)
	}
	r.held[id] = true
	return nil
}

// Release frees id. Releasing an id that is not held is a no-op.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
}

// Held reports whether id is currently owned.
func (r *Registry) Held(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[id]
}
