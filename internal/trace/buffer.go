// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package trace keeps a trailing window of pedal samples and projects it
// into drawing coordinates.
package trace

import (
	"sync"
	"time"

	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
	"github.com/relabs-tech/pedal_telemetry/internal/timeutil"
)

const DefaultWindow = 10 * time.Second

// Sample is a composite sample stamped with its insertion time.
type Sample struct {
	Time time.Time `json:"time"`
	pedals.Sample
}

// Point is a projected coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Buffer retains samples no older than the window. Safe for concurrent use.
type Buffer struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	window  time.Duration
	samples []Sample
}

func NewBuffer(window time.Duration, clock timeutil.Clock) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Buffer{window: window, clock: clock}
}

// Add stamps s with the current time, appends it and evicts expired samples.
func (b *Buffer) Add(s pedals.Sample) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = append(b.samples, Sample{Time: now, Sample: s})
	b.evictLocked(now)
}

// SetWindow changes the window and evicts immediately.
func (b *Buffer) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = d
	b.evictLocked(now)
}

func (b *Buffer) Window() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.window
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples)
}

// Samples returns a copy of the retained samples, oldest first.
func (b *Buffer) Samples() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Sample(nil), b.samples...)
}

// evictLocked drops samples stamped before now-window. Samples are in
// timestamp order, so the expired ones form a prefix.
func (b *Buffer) evictLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.samples) && b.samples[i].Time.Before(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	n := copy(b.samples, b.samples[i:])
	b.samples = b.samples[:n]
}

// Project maps every retained sample to (x, y) per channel, indexed by
// pedals.Channel. Age 0 lands on x = width and age = window on x = 0; a
// reading of 1 lands on y = 0. Samples older than the window are skipped
// and a channel with fewer than two points yields nil.
func (b *Buffer) Project(width, height float64, now time.Time) [pedals.ChannelCount][]Point {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out [pedals.ChannelCount][]Point
	if width <= 0 || height <= 0 {
		return out
	}
	window := b.window.Seconds()
	for _, ch := range pedals.Channels {
		var pts []Point
		for _, s := range b.samples {
			age := now.Sub(s.Time).Seconds()
			if age > window {
				continue
			}
			x := (window - age) / window * width
			x = min(max(x, 0), width)
			pts = append(pts, Point{X: x, Y: height - s.Get(ch)*height})
		}
		if len(pts) >= 2 {
			out[ch] = pts
		}
	}
	return out
}
