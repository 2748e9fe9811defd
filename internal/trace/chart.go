// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package trace

import (
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/relabs-tech/pedal_telemetry/internal/pedals"
)

// Chart writes an HTML line chart of the window, x in seconds relative to
// now. colors holds #RRGGBB strings indexed by pedals.Channel.
func (b *Buffer) Chart(w io.Writer, colors [pedals.ChannelCount]string, now time.Time) error {
	samples := b.Samples()
	window := b.Window().Seconds()

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle:       "Pedal trace",
			Width:           "1000px",
			Height:          "400px",
			BackgroundColor: "#1e1e1e",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Pedal trace",
			Subtitle: "last " + b.Window().String(),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "s", Min: -window, Max: 0}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Min: 0, Max: 1}),
	)

	for _, ch := range pedals.Channels {
		data := make([]opts.LineData, 0, len(samples))
		for _, s := range samples {
			age := now.Sub(s.Time).Seconds()
			if age > window {
				continue
			}
			data = append(data, opts.LineData{Value: []interface{}{-age, s.Get(ch)}})
		}
		line.AddSeries(ch.String(), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colors[ch], Width: strokeWidth}),
		)
	}
	return line.Render(w)
}
