// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package pedals

import (
	"fmt"
	"strings"
)

// Channel names one of the three logical pedals.
type Channel int

const (
	Clutch Channel = iota
	Brake
	Throttle
)

// ChannelCount is the number of logical pedals in a Sample.
const ChannelCount = 3

// Channels lists every channel in display order.
var Channels = [ChannelCount]Channel{Clutch, Brake, Throttle}

var channelNames = [ChannelCount]string{"clutch", "brake", "throttle"}

func (c Channel) String() string {
	if c < 0 || int(c) >= ChannelCount {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// ParseChannel accepts "clutch", "brake" or "throttle" in any case.
func ParseChannel(s string) (Channel, error) {
	for i, name := range channelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown pedal channel %q", s)
}

// Sample is one polling cycle: all three normalized readings, each in [0, 1].
// An unmapped channel reads 0.
type Sample struct {
	Clutch   float64 `json:"clutch"`
	Brake    float64 `json:"brake"`
	Throttle float64 `json:"throttle"`
}

// Get returns the reading for ch.
func (s Sample) Get(ch Channel) float64 {
	switch ch {
	case Clutch:
		return s.Clutch
	case Brake:
		return s.Brake
	case Throttle:
		return s.Throttle
	}
	return 0
}

// Set stores v as the reading for ch.
func (s *Sample) Set(ch Channel, v float64) {
	switch ch {
	case Clutch:
		s.Clutch = v
	case Brake:
		s.Brake = v
	case Throttle:
		s.Throttle = v
	}
}
