// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package axis addresses analog channels on a controller and normalizes
// their raw readings.
package axis

import (
	"fmt"
	"strconv"
)

const (
	// AxisCount is the number of ordinary axes every device reports:
	// X, Y, Z, RotationX, RotationY, RotationZ.
	AxisCount = 6

	// SliderOffset is added to a slider index in the legacy integer
	// encoding used by configuration files.
	SliderOffset = 100

	RawMin = -32768
	RawMax = 32767
)

// Kind distinguishes ordinary axes from sliders.
type Kind uint8

const (
	KindOrdinary Kind = iota
	KindSlider
)

var axisNames = [AxisCount]string{
	"X Axis",
	"Y Axis",
	"Z Axis",
	"Rotation X",
	"Rotation Y",
	"Rotation Z",
}

// Selector identifies one analog channel on a device.
type Selector struct {
	Kind  Kind
	Index int
}

// Ordinary returns a selector for ordinary axis i (0..5).
func Ordinary(i int) Selector {
	return Selector{Kind: KindOrdinary, Index: i}
}

// Slider returns a selector for slider i.
func Slider(i int) Selector {
	return Selector{Kind: KindSlider, Index: i}
}

// FromLegacy decodes the integer form stored in configuration files, where
// sliders are written as index+100.
func FromLegacy(n int) Selector {
	if n >= SliderOffset {
		return Slider(n - SliderOffset)
	}
	return Ordinary(n)
}

// Legacy encodes s into the integer form stored in configuration files.
func (s Selector) Legacy() int {
	if s.Kind == KindSlider {
		return s.Index + SliderOffset
	}
	return s.Index
}

// Valid reports whether s can address a channel on some device: an
// ordinary axis 0..5 or a non-negative slider index.
func (s Selector) Valid() bool {
	if s.Kind == KindSlider {
		return s.Index >= 0
	}
	return s.Index >= 0 && s.Index < AxisCount
}

// IsSlider reports whether s addresses a slider.
func (s Selector) IsSlider() bool {
	return s.Kind == KindSlider
}

func (s Selector) String() string {
	if s.Kind == KindSlider {
		return fmt.Sprintf("Slider %d", s.Index)
	}
	if s.Index >= 0 && s.Index < AxisCount {
		return axisNames[s.Index]
	}
	return fmt.Sprintf("Axis %d", s.Index)
}

// Normalize maps a raw reading onto [0, 1]. The full signed 16-bit range
// maps linearly; anything outside it is clamped.
func Normalize(raw int) float64 {
	v := (float64(raw) + 32768) / 65536
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// MarshalJSON writes the legacy integer form.
func (s Selector) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(s.Legacy())), nil
}

// UnmarshalJSON accepts the legacy integer form.
func (s *Selector) UnmarshalJSON(b []byte) error {
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("axis selector: %w", err)
	}
	*s = FromLegacy(n)
	return nil
}
