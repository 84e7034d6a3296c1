package chat

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/ranking"
)

// PromptTopK is the number of attributions embedded in every prompt.
const PromptTopK = 5

var (
	controlChar = regexp.MustCompile(`[\r\n\t\f\v]`)
	controlRun  = regexp.MustCompile(`[\r\n\t\f\v]+`)
)

// Sanitize replaces every control character with a space and trims the result.
func Sanitize(text string) string {
	return strings.TrimSpace(controlChar.ReplaceAllString(text, " "))
}

// stripControl collapses each run of control characters to one space.
func stripControl(text string) string {
	return strings.TrimSpace(controlRun.ReplaceAllString(text, " "))
}

const promptTemplate = `
You are an expert AI assistant. A user is analyzing a time-series forecasting model (%s) using SHAP values.

Below is a list of key timestep contributions to the forecast:
%s

The user now asks:
"%s"

IMPORTANT: Use ONLY the SHAP values above in your response. Do NOT invent values. Be precise and technical. Assume the user already knows what SHAP is.
`

// BuildPrompt embeds the sanitized question and the top attributions. The
// returned prompt contains no control characters.
func BuildPrompt(question string, model models.ModelID, attributions models.AttributionMap) string {
	summary := ranking.Summarize(ranking.Rank(attributions), PromptTopK)
	if summary == "" {
		summary = "No attribution data is available."
	} else {
		summary = strings.ReplaceAll(summary, "\n", ", ")
	}
	if model == "" {
		model = "unknown"
	}
	return stripControl(fmt.Sprintf(promptTemplate, model, summary, Sanitize(question)))
}
