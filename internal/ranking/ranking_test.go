package ranking

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/forecastlens/internal/models"
)

func TestRank(t *testing.T) {
	testData := map[string]struct {
		input    models.AttributionMap
		expected []string
	}{
		"by magnitude": {
			input:    models.AttributionMap{{Label: "a", Value: 0.1}, {Label: "b", Value: -0.9}, {Label: "c", Value: 0.5}},
			expected: []string{"b", "c", "a"},
		},
		"ties keep source order": {
			input:    models.AttributionMap{{Label: "x", Value: -1}, {Label: "y", Value: 1}, {Label: "z", Value: 2}, {Label: "w", Value: 1}},
			expected: []string{"z", "x", "y", "w"},
		},
		"non-finite dropped": {
			input:    models.AttributionMap{{Label: "nan", Value: math.NaN()}, {Label: "ok", Value: 0.2}, {Label: "inf", Value: math.Inf(1)}},
			expected: []string{"ok"},
		},
		"empty": {
			input:    nil,
			expected: []string{},
		},
	}

	for name, td := range testData {
		t.Run(name, func(t *testing.T) {
			ranked := Rank(td.input)
			labels := make([]string, len(ranked))
			for i, a := range ranked {
				labels[i] = a.Label
			}
			assert.Equal(t, td.expected, labels)
		})
	}
}

func TestRankIsNonIncreasingByMagnitude(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := r.Intn(30)
		m := make(models.AttributionMap, n)
		for i := range m {
			m[i] = models.Attribution{Label: fmt.Sprintf("Timestep t%d", i), Value: r.NormFloat64()}
		}

		ranked := Rank(m)
		require.Len(t, ranked, n)
		for i := 1; i < len(ranked); i++ {
			assert.GreaterOrEqual(t, math.Abs(ranked[i-1].Value), math.Abs(ranked[i].Value))
		}

		summary := Summarize(ranked, 5)
		if n == 0 {
			assert.Empty(t, summary)
			continue
		}
		assert.LessOrEqual(t, len(strings.Split(summary, "\n")), 5)
	}
}

func TestTopK(t *testing.T) {
	ranked := Rank(models.AttributionMap{{Label: "a", Value: 3}, {Label: "b", Value: 2}, {Label: "c", Value: 1}})
	assert.Len(t, TopK(ranked, 2), 2)
	assert.Len(t, TopK(ranked, 10), 3)
	assert.Empty(t, TopK(ranked, 0))
	assert.Empty(t, TopK(ranked, -1))
}

func TestSummarizeZeroIsPositive(t *testing.T) {
	summary := Summarize(Rank(models.AttributionMap{{Label: "a", Value: 0}, {Label: "b", Value: -1}}), 5)
	assert.Equal(t,
		"b contributed negatively with a value of -1.0000\na contributed positively with a value of 0.0000",
		summary)
}

func TestDetailedText(t *testing.T) {
	m := models.AttributionMap{{Label: "t0", Value: 0.01}, {Label: "t1", Value: -0.3}, {Label: "t2", Value: 0.2}, {Label: "t3", Value: 0.12345}}
	text := DetailedText(m, 3)

	lines := strings.Split(text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Explanation of key contributors:", lines[0])
	assert.Equal(t, "• t1 contributed negatively with a SHAP value of -0.3000.", lines[1])
	assert.Equal(t, "• t3 contributed positively with a SHAP value of 0.1235.", lines[3])
}

func TestBuildPanel(t *testing.T) {
	m := models.AttributionMap{}
	for i := 0; i < 8; i++ {
		v := float64(i + 1)
		if i%2 == 1 {
			v = -v
		}
		m = append(m, models.Attribution{Label: fmt.Sprintf("t%d", i), Value: v})
	}

	compact := BuildPanel(m, false)
	require.Len(t, compact.Bars, CompactSize)
	assert.Equal(t, 8, compact.Total)
	assert.Equal(t, "t7", compact.Bars[0].Label)
	assert.InDelta(t, 100.0, compact.Bars[0].Percent, 1e-9)
	assert.False(t, compact.Bars[0].Positive)
	assert.InDelta(t, 7.0/8.0*100, compact.Bars[1].Percent, 1e-9)
	assert.True(t, compact.Bars[1].Positive)

	expanded := BuildPanel(m, true)
	assert.Len(t, expanded.Bars, 8)
	assert.True(t, expanded.Expanded)

	zeros := BuildPanel(models.AttributionMap{{Label: "a", Value: 0}}, false)
	require.Len(t, zeros.Bars, 1)
	assert.Zero(t, zeros.Bars[0].Percent)
	assert.True(t, zeros.Bars[0].Positive)
}
