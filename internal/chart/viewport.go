package chart

import "math"

const (
	MinZoom        = 1.0
	DefaultMaxZoom = 8.0
	// ZoomLimit is the largest scale any viewport accepts.
	ZoomLimit = 8.0
)

// Viewport is the pan/zoom transform applied on top of a scene's scales:
// screen = inner*Scale + Offset along the horizontal axis.
type Viewport struct {
	Scale   float64 `json:"scale"`
	Offset  float64 `json:"offset"`
	MaxZoom float64 `json:"max_zoom"`
}

func NewViewport(maxZoom float64) Viewport {
	if maxZoom < MinZoom {
		maxZoom = DefaultMaxZoom
	}
	maxZoom = math.Min(maxZoom, ZoomLimit)
	return Viewport{Scale: MinZoom, MaxZoom: maxZoom}
}

// ZoomTo sets the scale, clamped to [1, MaxZoom], keeping anchor (an inner x
// coordinate on screen) fixed.
func (v Viewport) ZoomTo(scale, anchor, innerWidth float64) Viewport {
	scale = math.Max(MinZoom, math.Min(scale, v.MaxZoom))
	content := (anchor - v.Offset) / v.Scale
	v.Offset = anchor - content*scale
	v.Scale = scale
	return v.clamp(innerWidth)
}

// Pan shifts the view by dx screen pixels.
func (v Viewport) Pan(dx, innerWidth float64) Viewport {
	v.Offset += dx
	return v.clamp(innerWidth)
}

// clamp keeps the zoomed content covering the whole plot area.
func (v Viewport) clamp(innerWidth float64) Viewport {
	minOffset := innerWidth - innerWidth*v.Scale
	v.Offset = math.Max(minOffset, math.Min(v.Offset, 0))
	return v
}

// Apply maps an inner x coordinate to its on-screen position.
func (v Viewport) Apply(x float64) float64 {
	return x*v.Scale + v.Offset
}

// Invert maps an on-screen x back to the inner coordinate.
func (v Viewport) Invert(x float64) float64 {
	return (x - v.Offset) / v.Scale
}

// Window returns the visible part of the content as start and end percentages.
func (v Viewport) Window(innerWidth float64) (float64, float64) {
	if innerWidth <= 0 {
		return 0, 100
	}
	start := v.Invert(0) / innerWidth * 100
	end := v.Invert(innerWidth) / innerWidth * 100
	return math.Max(0, start), math.Min(100, end)
}

// Tooltip is the floating hover label.
type Tooltip struct {
	Visible bool    `json:"visible"`
	Text    string  `json:"text,omitempty"`
	Left    float64 `json:"left"`
	Top     float64 `json:"top"`
}

const hoverSlop = 2

// Hover resolves a pointer at inner coordinates (px, py) against the scene's
// markers. The label follows the pointer and is hidden off-marker and
// outside the plot area.
func Hover(s Scene, v Viewport, px, py float64) Tooltip {
	if px < 0 || px > s.InnerWidth || py < 0 || py > s.InnerHeight {
		return Tooltip{}
	}
	best, bestDist := -1, math.Inf(1)
	for i, m := range s.Markers {
		dx := v.Apply(m.X) - px
		dy := m.Y - py
		d := math.Hypot(dx, dy)
		if d <= m.Radius*v.Scale+hoverSlop && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Tooltip{}
	}
	return Tooltip{
		Visible: true,
		Text:    s.Markers[best].Label,
		Left:    px + s.Margin.Left,
		Top:     py + s.Margin.Top - 28,
	}
}
