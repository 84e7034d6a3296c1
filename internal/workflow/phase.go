package workflow

// Phase is the orchestrator's position in the run sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseValidating
	PhaseForecastPending
	PhaseForecastReady
	PhaseBasicExplainPending
	PhaseBasicExplainReady
	PhaseDetailedExplainPending
	PhaseDetailedExplainReady
	PhaseDetailedExplainFailed
	PhaseSettled
)

var phaseNames = [...]string{
	PhaseIdle:                   "idle",
	PhaseValidating:             "validating",
	PhaseForecastPending:        "forecast_pending",
	PhaseForecastReady:          "forecast_ready",
	PhaseBasicExplainPending:    "basic_explain_pending",
	PhaseBasicExplainReady:      "basic_explain_ready",
	PhaseDetailedExplainPending: "detailed_explain_pending",
	PhaseDetailedExplainReady:   "detailed_explain_ready",
	PhaseDetailedExplainFailed:  "detailed_explain_failed",
	PhaseSettled:                "settled",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Stages are the per-section visibility flags. They are derived from the
// phase and the detailed-explanation outcome, never stored independently.
type Stages struct {
	Results             bool `json:"results"`
	BasicExplanation    bool `json:"basic_explanation"`
	DetailedExplanation bool `json:"detailed_explanation"`
	Assistant           bool `json:"assistant"`
	Feedback            bool `json:"feedback"`
}

func stagesFor(p Phase, detailedOK bool) Stages {
	results := p >= PhaseForecastReady
	detailed := detailedOK && p >= PhaseDetailedExplainReady
	return Stages{
		Results:             results,
		BasicExplanation:    p >= PhaseBasicExplainReady,
		DetailedExplanation: detailed,
		Assistant:           detailed,
		Feedback:            results,
	}
}
