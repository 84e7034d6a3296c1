package models

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Attribution is one labelled contribution score.
type Attribution struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// AttributionMap holds unique labels in the order the explanation service sent them.
type AttributionMap []Attribution

func (m AttributionMap) Len() int { return len(m) }

// Lookup returns the value for label.
func (m AttributionMap) Lookup(label string) (float64, bool) {
	for _, a := range m {
		if a.Label == label {
			return a.Value, true
		}
	}
	return 0, false
}

// MarshalJSON encodes the map as a JSON object, keeping source order.
func (m AttributionMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(a.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Explanation is the detailed explanation returned by the attribution service.
// Fields the dashboard does not interpret are kept in Extra.
type Explanation struct {
	Attributions AttributionMap             `json:"shap_values"`
	BaseValue    *float64                   `json:"base_value,omitempty"`
	Importance   AttributionMap             `json:"feature_importance,omitempty"`
	Extra        map[string]json.RawMessage `json:"extra,omitempty"`
}
