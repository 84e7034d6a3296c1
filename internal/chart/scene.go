// Package chart lays out forecast and baseline series and renders them as an
// interactive line chart.
package chart

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/rewired-gh/forecastlens/internal/models"
)

type Mode string

const (
	ModeSimple     Mode = "simple"
	ModeComparison Mode = "comparison"
)

// ParseMode defaults to simple for anything but "comparison".
func ParseMode(s string) Mode {
	if Mode(s) == ModeComparison {
		return ModeComparison
	}
	return ModeSimple
}

// EffectiveMode downgrades comparison to simple when the baseline is missing
// or its length differs from the forecast.
func EffectiveMode(r *models.ForecastResult, requested Mode) Mode {
	if requested == ModeComparison && r.HasComparableBaseline() {
		return ModeComparison
	}
	return ModeSimple
}

type Margin struct {
	Top, Right, Bottom, Left float64
}

var DefaultMargin = Margin{Top: 20, Right: 30, Bottom: 30, Left: 50}

const (
	// domainPadding is the fraction of the value span added above and below.
	domainPadding = 0.1
	markerRadius  = 3
	tickCount     = 10
)

// LinearScale maps a domain interval onto a range interval.
type LinearScale struct {
	D0, D1 float64
	R0, R1 float64
}

func (s LinearScale) Map(v float64) float64 {
	if s.D1 == s.D0 {
		return (s.R0 + s.R1) / 2
	}
	return s.R0 + (v-s.D0)/(s.D1-s.D0)*(s.R1-s.R0)
}

// Ticks returns round values inside the domain, about n of them.
func (s LinearScale) Ticks(n int) []float64 {
	lo, hi := math.Min(s.D0, s.D1), math.Max(s.D0, s.D1)
	if n < 1 || hi == lo {
		return []float64{lo}
	}
	step := tickStep(lo, hi, n)
	var ticks []float64
	for i := math.Ceil(lo / step); i*step <= hi+step*1e-9; i++ {
		ticks = append(ticks, roundTo(i*step, step))
	}
	return ticks
}

func tickStep(lo, hi float64, n int) float64 {
	raw := (hi - lo) / float64(n)
	step := math.Pow(10, math.Floor(math.Log10(raw)))
	switch e := raw / step; {
	case e >= math.Sqrt(50):
		step *= 10
	case e >= math.Sqrt(10):
		step *= 5
	case e >= math.Sqrt(2):
		step *= 2
	}
	return step
}

// roundTo removes float noise such as 0.30000000000000004.
func roundTo(v, step float64) float64 {
	digits := math.Max(0, -math.Floor(math.Log10(step)))
	p := math.Pow(10, digits)
	return math.Round(v*p) / p
}

// Point is one datum in inner (margin-relative) pixel coordinates.
type Point struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// Marker is a hoverable dot on the forecast line.
type Marker struct {
	Point
	Radius float64 `json:"radius"`
	Label  string  `json:"label"`
}

// Scene is the full layout of one chart. It is rebuilt from scratch whenever
// the result or the mode changes.
type Scene struct {
	Width       float64     `json:"width"`
	Height      float64     `json:"height"`
	Margin      Margin      `json:"margin"`
	Mode        Mode        `json:"mode"`
	X           LinearScale `json:"x"`
	Y           LinearScale `json:"y"`
	XTicks      []float64   `json:"x_ticks"`
	YTicks      []float64   `json:"y_ticks"`
	Gridlines   []float64   `json:"gridlines"`
	Forecast    []Point     `json:"forecast"`
	Baseline    []Point     `json:"baseline,omitempty"`
	Markers     []Marker    `json:"markers"`
	InnerWidth  float64     `json:"inner_width"`
	InnerHeight float64     `json:"inner_height"`
}

// TooltipLabel formats a marker value the way the hover label shows it.
func TooltipLabel(v float64) string {
	return fmt.Sprintf("Value: %.2f", v)
}

// BuildScene lays out r for a container of width x height pixels.
func BuildScene(r *models.ForecastResult, requested Mode, width, height float64) Scene {
	mode := EffectiveMode(r, requested)
	m := DefaultMargin
	innerW := math.Max(width-m.Left-m.Right, 1)
	innerH := math.Max(height-m.Top-m.Bottom, 1)

	var forecast, baseline []float64
	if r != nil {
		forecast = r.Forecast
		if mode == ModeComparison {
			baseline = r.Baseline
		}
	}

	n := len(forecast)
	xScale := LinearScale{D0: 0, D1: math.Max(float64(n-1), 1), R0: 0, R1: innerW}

	lo, hi := valueDomain(forecast, baseline)
	yScale := LinearScale{D0: lo, D1: hi, R0: innerH, R1: 0}

	s := Scene{
		Width:       width,
		Height:      height,
		Margin:      m,
		Mode:        mode,
		X:           xScale,
		Y:           yScale,
		XTicks:      xScale.Ticks(tickCount),
		YTicks:      yScale.Ticks(tickCount),
		InnerWidth:  innerW,
		InnerHeight: innerH,
	}
	for _, t := range s.YTicks {
		s.Gridlines = append(s.Gridlines, yScale.Map(t))
	}

	s.Forecast = project(forecast, xScale, yScale)
	if mode == ModeComparison {
		s.Baseline = project(baseline, xScale, yScale)
	}
	s.Markers = make([]Marker, len(s.Forecast))
	for i, p := range s.Forecast {
		s.Markers[i] = Marker{Point: p, Radius: markerRadius, Label: TooltipLabel(p.Value)}
	}
	return s
}

func project(values []float64, x, y LinearScale) []Point {
	pts := make([]Point, len(values))
	for i, v := range values {
		pts[i] = Point{Index: i, Value: v, X: x.Map(float64(i)), Y: y.Map(v)}
	}
	return pts
}

// valueDomain spans every shown value, padded proportionally on both sides.
func valueDomain(series ...[]float64) (float64, float64) {
	var all []float64
	for _, s := range series {
		all = append(all, s...)
	}
	if len(all) == 0 {
		return 0, 1
	}
	lo, hi := floats.Min(all), floats.Max(all)
	span := hi - lo
	if span == 0 {
		pad := math.Max(math.Abs(lo)*domainPadding, 1)
		return lo - pad, hi + pad
	}
	return lo - span*domainPadding, hi + span*domainPadding
}
