// Package ranking orders attribution scores by magnitude and renders the
// textual summaries used by the explanation panel and the assistant prompt.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rewired-gh/forecastlens/internal/models"
)

// CompactSize is the number of attributions shown before the panel is expanded.
const CompactSize = 5

// Rank drops NaN and infinite scores and orders the rest by descending
// absolute value. Ties keep source order.
func Rank(m models.AttributionMap) []models.Attribution {
	ranked := make([]models.Attribution, 0, len(m))
	for _, a := range m {
		if math.IsNaN(a.Value) || math.IsInf(a.Value, 0) {
			continue
		}
		ranked = append(ranked, a)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Value) > math.Abs(ranked[j].Value)
	})
	return ranked
}

// TopK returns at most the first k entries of ranked.
func TopK(ranked []models.Attribution, k int) []models.Attribution {
	if k < 0 {
		k = 0
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	return ranked[:k]
}

// IsPositive classifies a score. Zero counts as positive.
func IsPositive(v float64) bool {
	return v >= 0
}

func direction(v float64) string {
	if IsPositive(v) {
		return "positively"
	}
	return "negatively"
}

// Summarize renders one line per entry of the top k, joined by newlines.
func Summarize(ranked []models.Attribution, k int) string {
	top := TopK(ranked, k)
	lines := make([]string, len(top))
	for i, a := range top {
		lines[i] = fmt.Sprintf("%s contributed %s with a value of %.4f", a.Label, direction(a.Value), a.Value)
	}
	return strings.Join(lines, "\n")
}

// DetailedText is the explanation shown once attributions are available.
func DetailedText(m models.AttributionMap, k int) string {
	top := TopK(Rank(m), k)
	var b strings.Builder
	b.WriteString("Explanation of key contributors:")
	for _, a := range top {
		fmt.Fprintf(&b, "\n• %s contributed %s with a SHAP value of %.4f.", a.Label, direction(a.Value), a.Value)
	}
	return b.String()
}

// Bar is one row of the explanation panel.
type Bar struct {
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Percent  float64 `json:"percent"`
	Positive bool    `json:"positive"`
}

// Panel holds the rows of the explanation panel.
type Panel struct {
	Bars     []Bar `json:"bars"`
	Total    int   `json:"total"`
	Expanded bool  `json:"expanded"`
}

// BuildPanel ranks m and sizes each bar relative to the largest magnitude.
// Only the top CompactSize rows are included unless expanded is set.
func BuildPanel(m models.AttributionMap, expanded bool) Panel {
	ranked := Rank(m)
	shown := ranked
	if !expanded {
		shown = TopK(ranked, CompactSize)
	}

	maxAbs := 0.0
	if len(ranked) > 0 {
		maxAbs = math.Abs(ranked[0].Value)
	}

	bars := make([]Bar, len(shown))
	for i, a := range shown {
		pct := 0.0
		if maxAbs > 0 {
			pct = math.Abs(a.Value) / maxAbs * 100
		}
		bars[i] = Bar{Label: a.Label, Value: a.Value, Percent: pct, Positive: IsPositive(a.Value)}
	}
	return Panel{Bars: bars, Total: len(ranked), Expanded: expanded}
}
