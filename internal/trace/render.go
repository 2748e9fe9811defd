// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trace

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"golang.org/x/image/vector"

	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

var (
	Background = color.RGBA{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff}
	GridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 0xff}
)

const (
	gridRows    = 4
	strokeWidth = 2
)

// Render draws the grid and one polyline per channel into img. colors is
// indexed by pedals.Channel.
func (b *Buffer) Render(img draw.Image, colors [pedals.ChannelCount]color.Color, now time.Time) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	draw.Draw(img, bounds, image.NewUniform(Background), image.Point{}, draw.Src)
	if w <= 0 || h <= 0 {
		return
	}

	z := vector.NewRasterizer(w, h)
	for i := 0; i <= gridRows; i++ {
		// centre each row on a pixel
		y := math.Floor(float64(h)*float64(i)/gridRows) + 0.5
		y = math.Min(y, float64(h)-0.5)
		segment(z, Point{0, y}, Point{float64(w), y}, 1)
	}
	z.Draw(img, bounds, image.NewUniform(GridColor), image.Point{})

	lines := b.Project(float64(w), float64(h), now)
	for _, ch := range pedals.Channels {
		pts := lines[ch]
		if len(pts) < 2 {
			continue
		}
		z.Reset(w, h)
		z.DrawOp = draw.Over
		for i := 1; i < len(pts); i++ {
			segment(z, pts[i-1], pts[i], strokeWidth)
		}
		z.Draw(img, bounds, image.NewUniform(colors[ch]), image.Point{})
	}
}

// segment adds a quad of the given width around the line a-b.
func segment(z *vector.Rasterizer, a, b Point, width float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if l == 0 {
		return
	}
	nx, ny := -dy/l*width/2, dx/l*width/2
	z.MoveTo(float32(a.X+nx), float32(a.Y+ny))
	z.LineTo(float32(b.X+nx), float32(b.Y+ny))
	z.LineTo(float32(b.X-nx), float32(b.Y-ny))
	z.LineTo(float32(a.X-nx), float32(a.Y-ny))
	z.ClosePath()
}
