// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pedals

import (
	"fmt"

	"github.com/relabs-tech/pedal_telemetry/internal/axis"
	"github.com/relabs-tech/pedal_telemetry/internal/device"
)

// Read polls h and returns the normalized value of the channel addressed by
// sel. Missing channels and backend failures read as 0.
func Read(h device.Handle, sel axis.Selector) float64 {
	v, _ := read(h, sel)
	return v
}

// read is Read with the failure reported, so the poller can log channel
// state changes. A nil error with v == 0 means the selector is out of range.
func read(h device.Handle, sel axis.Selector) (v float64, err error) {
	if h == nil {
		return 0, nil
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = 0, fmt.Errorf("%s %s: panic: %v", h.ID(), sel, r)
		}
	}()

	if err := h.Poll(); err != nil {
		return 0, fmt.Errorf("%s poll: %w", h.ID(), err)
	}
	st, err := h.State()
	if err != nil {
		return 0, fmt.Errorf("%s state: %w", h.ID(), err)
	}
	raw, ok := st.Raw(sel)
	if !ok {
		return 0, nil
	}
	return axis.Normalize(raw), nil
}
