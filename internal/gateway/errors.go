package gateway

// User-facing messages. The underlying cause is logged, never shown.
const (
	MsgForecastFailed    = "Forecast failed. Please check your input data."
	MsgExplanationFailed = "SHAP explanation failed. Try again or check data."
)

// ForecastError is returned when the forecast service cannot produce a result.
type ForecastError struct {
	Cause error
}

func (e *ForecastError) Error() string { return MsgForecastFailed }

func (e *ForecastError) Unwrap() error { return e.Cause }

// ExplanationError is returned when the attribution service fails.
type ExplanationError struct {
	Cause error
}

func (e *ExplanationError) Error() string { return MsgExplanationFailed }

func (e *ExplanationError) Unwrap() error { return e.Cause }
