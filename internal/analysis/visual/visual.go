// Package visual renders round charts as self-contained HTML pages.
package visual

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"papertrader/internal/store/model"
)

const (
	chartWidthPx       = 1100
	chartHeightPx      = 520
	colorBackground    = "#0f172a"
	colorTextPrimary   = "#e2e8f0"
	colorTextSecondary = "#94a3b8"
	colorValue         = "#38bdf8"
	colorCash          = "#a3e635"
	colorStart         = "#facc15"
	colorTarget        = "#22c55e"
	colorBust          = "#ef4444"
)

// RoundChartInput describes one round's value history.
type RoundChartInput struct {
	Round            model.Round
	Snapshots        []model.Snapshot
	BustThreshold    float64
	TargetMultiplier float64
}

// RenderRoundChart writes an HTML line chart of total value and cash, with
// reference lines for the start balance, the target and the bust threshold.
func RenderRoundChart(w io.Writer, in RoundChartInput) error {
	if len(in.Snapshots) == 0 {
		return fmt.Errorf("round %d has no snapshots", in.Round.ID)
	}
	xAxis := make([]string, 0, len(in.Snapshots))
	values := make([]opts.LineData, 0, len(in.Snapshots))
	cash := make([]opts.LineData, 0, len(in.Snapshots))
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	for _, s := range in.Snapshots {
		xAxis = append(xAxis, time.UnixMilli(s.CreatedAt).UTC().Format("01-02 15:04"))
		values = append(values, opts.LineData{Value: round2(s.TotalValue)})
		cash = append(cash, opts.LineData{Value: round2(s.Cash)})
		minVal = math.Min(minVal, math.Min(s.TotalValue, s.Cash))
		maxVal = math.Max(maxVal, s.TotalValue)
	}
	start := in.Round.StartBalance
	target := start * in.TargetMultiplier
	minVal = math.Min(minVal, start)
	maxVal = math.Max(maxVal, start)
	padding := math.Max((maxVal-minVal)*0.05, 1)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
			PageTitle:       fmt.Sprintf("Round #%d", in.Round.ID),
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("Round #%d (%s)", in.Round.ID, in.Round.Status),
			Subtitle:      fmt.Sprintf("start %.2f, target %.2f, bust below %.2f", start, target, in.BustThreshold),
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "40", TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			Min:       round2(math.Max(0, minVal-padding)),
			Max:       round2(maxVal + padding),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis)
	line.AddSeries("Total value", values,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorValue, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithMarkLineNameYAxisItemOpts(
			opts.MarkLineNameYAxisItem{Name: "Start", YAxis: start},
			opts.MarkLineNameYAxisItem{Name: "Target", YAxis: target},
			opts.MarkLineNameYAxisItem{Name: "Bust", YAxis: in.BustThreshold},
		),
		charts.WithMarkLineStyleOpts(opts.MarkLineStyle{
			Symbol:    []string{"none", "none"},
			LineStyle: &opts.LineStyle{Color: colorStart, Type: "dashed"},
		}),
	)
	line.AddSeries("Cash", cash,
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line.Render(w)
}

// RoundChartHTML is RenderRoundChart into a byte slice.
func RoundChartHTML(in RoundChartInput) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderRoundChart(&buf, in); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
