package chart

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	ForecastColor = "#3b82f6"
	BaselineColor = "#ef4444"
)

// tooltipFormatter mirrors TooltipLabel on the client side.
const tooltipFormatter = `function (p) { return 'Value: ' + Number(p.value).toFixed(2); }`

// chartID names the echarts instance so zoomBoundJS can reach it.
const chartID = "forecast"

// zoomBoundJS caps the data zoom at maxZoom: the window may not shrink below
// 100/maxZoom percent of the series.
func zoomBoundJS(maxZoom float64) string {
	return fmt.Sprintf("goecharts_%s.setOption({dataZoom: [{minSpan: %s, maxSpan: 100}]});",
		chartID, strconv.FormatFloat(100/maxZoom, 'f', -1, 64))
}

// NewLine builds the echarts line chart for a scene under the given viewport.
// The baseline series is only added when the scene is in comparison mode.
func NewLine(s Scene, v Viewport, title string) *charts.Line {
	start, end := v.Window(s.InnerWidth)

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			ChartID: chartID,
			Width:   fmt.Sprintf("%dpx", int(s.Width)),
			Height:  fmt.Sprintf("%dpx", int(s.Height)),
		}),
		charts.WithTitleOpts(opts.Title{
			Title: title,
		}),
		charts.WithTooltipOpts(opts.Tooltip{
			Show:      opts.Bool(true),
			Trigger:   "item",
			Formatter: opts.FuncOpts(tooltipFormatter),
		}),
		charts.WithLegendOpts(opts.Legend{
			Show: opts.Bool(s.Mode == ModeComparison),
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Min: s.Y.D0,
			Max: s.Y.D1,
			SplitLine: &opts.SplitLine{
				Show: opts.Bool(true),
			},
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      float32(start),
			End:        float32(end),
			XAxisIndex: []int{0},
		}),
	)

	xs := make([]int, len(s.Forecast))
	forecast := make([]opts.LineData, 0, len(s.Forecast))
	for i, p := range s.Forecast {
		xs[i] = p.Index
		forecast = append(forecast, opts.LineData{Value: p.Value})
	}

	line = line.SetXAxis(xs)
	line = line.AddSeries("Forecast", forecast,
		charts.WithLineStyleOpts(opts.LineStyle{Color: ForecastColor, Width: 2}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: ForecastColor}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true), Symbol: "circle", SymbolSize: markerRadius * 2}),
	)

	if s.Mode == ModeComparison {
		baseline := make([]opts.LineData, 0, len(s.Baseline))
		for _, p := range s.Baseline {
			baseline = append(baseline, opts.LineData{Value: p.Value})
		}
		line = line.AddSeries("Baseline", baseline,
			charts.WithLineStyleOpts(opts.LineStyle{Color: BaselineColor, Width: 2, Type: "dashed"}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: BaselineColor}),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		)
	}

	maxZoom := v.MaxZoom
	if maxZoom < MinZoom {
		maxZoom = DefaultMaxZoom
	}
	line.AddJSFuncStrs(types.FuncStr(zoomBoundJS(math.Min(maxZoom, ZoomLimit))))

	return line
}

// Render writes a self-contained HTML page with the chart to w.
func Render(w io.Writer, s Scene, v Viewport, title string) error {
	return NewLine(s, v, title).Render(w)
}
