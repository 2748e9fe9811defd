// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

//go:build !linux

package device

import (
	"errors"
	"fmt"
)

var errNoEvdev = errors.New("evdev backend is only available on linux")

// EvdevBackend is unavailable on this platform.
type EvdevBackend struct {
	Pattern string
}

func NewEvdevBackend() *EvdevBackend {
	return &EvdevBackend{}
}

func (b *EvdevBackend) Enumerate() ([]Info, error) {
	return nil, errNoEvdev
}

func (b *EvdevBackend) Open(id string) (Handle, error) {
	return nil, fmt.Errorf("evdev %s: %w: %v", id, ErrUnavailable, errNoEvdev)
}

func (b *EvdevBackend) Release(Handle) error {
	return errNoEvdev
}
