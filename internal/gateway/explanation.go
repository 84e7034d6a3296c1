package gateway

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/rewired-gh/forecastlens/internal/models"
)

var basicExplanations = map[models.ModelID]string{
	models.ModelLSTM:        "LSTM models are good at capturing temporal patterns in sequential data.",
	models.ModelCNNLSTM:     "CNN-LSTM combines spatial feature extraction with temporal modeling.",
	models.ModelTransformer: "Transformers use attention mechanisms to model relationships across time steps.",
}

// BasicExplanation is a local lookup and never fails.
func (c *Client) BasicExplanation(model models.ModelID) string {
	if text, ok := basicExplanations[model]; ok {
		return text
	}
	return fmt.Sprintf("%s forecasts the series from its recent history.", model)
}

// parseExplanation validates the untyped attribution payload. Non-numeric
// scores are dropped, source key order is kept, and unknown top-level fields
// are passed through in Extra.
func parseExplanation(raw map[string]json.RawMessage) (*models.Explanation, error) {
	shap, ok := raw["shap_values"]
	if !ok {
		return nil, fmt.Errorf("response has no shap_values")
	}
	attrs, err := decodeOrderedScores(shap)
	if err != nil {
		return nil, fmt.Errorf("invalid shap_values: %w", err)
	}

	exp := &models.Explanation{Attributions: attrs}

	if bv, ok := raw["base_value"]; ok {
		if v, ok := numberValue(bv); ok {
			exp.BaseValue = &v
		}
	}
	if fi, ok := raw["feature_importance"]; ok {
		if importance, err := decodeOrderedScores(fi); err == nil {
			exp.Importance = importance
		}
	}

	for k, v := range raw {
		switch k {
		case "shap_values", "base_value", "feature_importance":
			continue
		}
		if exp.Extra == nil {
			exp.Extra = make(map[string]json.RawMessage)
		}
		exp.Extra[k] = v
	}
	return exp, nil
}

// decodeOrderedScores walks a JSON object key by key. Go maps lose order, so
// the object is read as a token stream.
func decodeOrderedScores(data []byte) (models.AttributionMap, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return models.AttributionMap{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}

	out := models.AttributionMap{}
	seen := make(map[string]int)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected key, got %v", keyTok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		v, ok := numberValue(value)
		if !ok {
			continue
		}

		// A repeated key overwrites in place, as a JS object would.
		if i, dup := seen[key]; dup {
			out[i].Value = v
			continue
		}
		seen[key] = len(out)
		out = append(out, models.Attribution{Label: key, Value: v})
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, err
	}
	return out, nil
}

// numberValue accepts JSON numbers only; strings, booleans and null are rejected.
func numberValue(raw []byte) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0, false
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
