// Package models defines the core domain entities: datasets, forecast results,
// attributions and conversation turns.
package models

import (
	"fmt"
	"math"
	"strings"
)

// ModelID identifies a forecasting model in its internal hyphenated form.
type ModelID string

const (
	ModelLSTM        ModelID = "lstm"
	ModelCNNLSTM     ModelID = "cnn-lstm"
	ModelTransformer ModelID = "transformer"
)

// ParseModel returns the ModelID for s or a ValidationError if s is not a known model.
func ParseModel(s string) (ModelID, error) {
	m := ModelID(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case ModelLSTM, ModelCNNLSTM, ModelTransformer:
		return m, nil
	}
	return "", NewValidationError("unknown model %q", s)
}

// WireName is the identifier sent to the model-serving backend. Only the first
// hyphen is mapped to an underscore.
func (m ModelID) WireName() string {
	return strings.Replace(string(m), "-", "_", 1)
}

// Transform identifies the input transform applied by the backend.
type Transform string

const (
	TransformDCT  Transform = "DCT"
	TransformDWT  Transform = "DWT"
	TransformCS   Transform = "CS"
	TransformNone Transform = "NONE"
	TransformRaw  Transform = "RAW"
)

// ParseTransform accepts any casing and returns the canonical upper-case Transform.
func ParseTransform(s string) (Transform, error) {
	t := Transform(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TransformDCT, TransformDWT, TransformCS, TransformNone, TransformRaw:
		return t, nil
	}
	return "", NewValidationError("unknown transform %q", s)
}

// ValidationError reports input that blocks the workflow before any remote call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// MsgNoData is shown when a run is requested without any input rows.
const MsgNoData = "Please provide data for forecasting"

// DataPoint is one input observation.
type DataPoint []float64

// Dataset is an ordered sequence of observations; insertion order is temporal order.
type Dataset []DataPoint

// Validate checks that the dataset is non-empty and every value is finite.
func (d Dataset) Validate() error {
	if len(d) == 0 {
		return NewValidationError(MsgNoData)
	}
	for i, row := range d {
		if len(row) == 0 {
			return NewValidationError("row %d is empty", i+1)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewValidationError("row %d column %d is not a finite number", i+1, j+1)
			}
		}
	}
	return nil
}

// Flatten concatenates all rows in order, dropping row boundaries.
func (d Dataset) Flatten() []float64 {
	n := 0
	for _, row := range d {
		n += len(row)
	}
	out := make([]float64, 0, n)
	for _, row := range d {
		out = append(out, row...)
	}
	return out
}

// Width returns the number of columns of the first row, or 0 for an empty dataset.
func (d Dataset) Width() int {
	if len(d) == 0 {
		return 0
	}
	return len(d[0])
}

// Series is an ordered sequence of real values.
type Series []float64

// ForecastResult is produced once per successful forecast request and is not
// modified afterwards.
type ForecastResult struct {
	Forecast  Series `json:"forecast"`
	Model     string `json:"model"`
	Transform string `json:"transform"`
	Status    string `json:"status,omitempty"`
	Baseline  Series `json:"baseline,omitempty"`
}

// Horizon is the number of forecast steps.
func (r *ForecastResult) Horizon() int {
	if r == nil {
		return 0
	}
	return len(r.Forecast)
}

// HasComparableBaseline reports whether the baseline can be drawn against the forecast.
func (r *ForecastResult) HasComparableBaseline() bool {
	return r != nil && len(r.Baseline) > 0 && len(r.Baseline) == len(r.Forecast)
}
