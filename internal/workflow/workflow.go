// Package workflow sequences a forecast run: validate, forecast, basic
// explanation, then detailed explanation. A failed detailed explanation leaves
// the earlier stages in place.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/ranking"
	"github.com/rewired-gh/forecastlens/internal/storage"
)

var (
	// ErrRunInProgress is returned when a run is requested while another is outstanding.
	ErrRunInProgress = errors.New("a forecast run is already in progress")
	// ErrRunDiscarded is returned by a run whose results arrived after a reset.
	ErrRunDiscarded = errors.New("run was reset before it completed")
)

// MsgForecastErrorPrefix prefixes forecast failures in the error slot.
const MsgForecastErrorPrefix = "Error running forecast: "

// Gateway is the subset of the remote service gateway used by a run.
type Gateway interface {
	Forecast(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.ForecastResult, error)
	BasicExplanation(model models.ModelID) string
	DetailedExplanation(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.Explanation, error)
}

// Journal records run progress. Failures are logged and never affect a run.
type Journal interface {
	RecordRun(rec *storage.RunRecord) error
}

type Config struct {
	// SummaryTopK is the number of contributors in the detailed explanation text.
	SummaryTopK int
}

func DefaultConfig() Config {
	return Config{SummaryTopK: 3}
}

// Transition is emitted for every phase change.
type Transition struct {
	RunID  string
	From   Phase
	To     Phase
	Stages Stages
	At     time.Time
}

// Snapshot is a consistent copy of the orchestrator state.
type Snapshot struct {
	RunID               string                 `json:"run_id,omitempty"`
	Phase               Phase                  `json:"phase"`
	Stages              Stages                 `json:"stages"`
	Busy                bool                   `json:"busy"`
	Error               string                 `json:"error,omitempty"`
	Model               models.ModelID         `json:"model,omitempty"`
	Transform           models.Transform       `json:"transform,omitempty"`
	Rows                int                    `json:"rows"`
	Result              *models.ForecastResult `json:"result,omitempty"`
	BasicExplanation    string                 `json:"basic_explanation,omitempty"`
	DetailedExplanation string                 `json:"detailed_explanation,omitempty"`
	Attributions        models.AttributionMap  `json:"attributions,omitempty"`
	Explanation         *models.Explanation    `json:"-"`
}

// Orchestrator owns the forecast result, explanations and attributions of
// the current analysis session.
type Orchestrator struct {
	gateway Gateway
	journal Journal
	config  Config

	mu        sync.Mutex
	listeners []func(Transition)
	pending   []Transition

	phase      Phase
	detailedOK bool
	runID      string // active run; cleared by Reset
	busyRun    string // run holding the single-flight guard
	errText    string

	model       models.ModelID
	transform   models.Transform
	data        models.Dataset
	result      *models.ForecastResult
	basic       string
	detailed    string
	explanation *models.Explanation
	record      *storage.RunRecord
}

// New creates an orchestrator. journal may be nil.
func New(gw Gateway, journal Journal, config Config) *Orchestrator {
	if config.SummaryTopK < 1 {
		config.SummaryTopK = DefaultConfig().SummaryTopK
	}
	return &Orchestrator{
		gateway: gw,
		journal: journal,
		config:  config,
	}
}

// OnTransition registers fn to be called after every phase change. fn runs
// outside the orchestrator lock and may call Snapshot.
func (o *Orchestrator) OnTransition(fn func(Transition)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, fn)
}

type run struct {
	id        string
	model     models.ModelID
	transform models.Transform
	data      models.Dataset
}

// Run executes a full run and returns when it settles. Validation failures,
// forecast failures and ErrRunInProgress are returned; a failed detailed
// explanation is not an error.
func (o *Orchestrator) Run(ctx context.Context, data models.Dataset, model models.ModelID, transform models.Transform) error {
	r, err := o.begin(data, model, transform)
	if err != nil {
		return err
	}
	return o.execute(ctx, r)
}

// Submit validates and claims the run synchronously, then continues in the
// background. It returns the run ID.
func (o *Orchestrator) Submit(ctx context.Context, data models.Dataset, model models.ModelID, transform models.Transform) (string, error) {
	r, err := o.begin(data, model, transform)
	if err != nil {
		return "", err
	}
	go func() {
		if err := o.execute(ctx, r); err != nil {
			logger.Debug("Run %s ended: %v", r.id, err)
		}
	}()
	return r.id, nil
}

func (o *Orchestrator) begin(data models.Dataset, model models.ModelID, transform models.Transform) (*run, error) {
	o.mu.Lock()
	if o.busyRun != "" {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}

	o.clearLocked()
	o.transitionLocked(PhaseValidating)

	if err := data.Validate(); err != nil {
		o.errText = err.Error()
		o.transitionLocked(PhaseIdle)
		o.unlockAndNotify()
		logger.Warn("Run rejected: %v", err)
		return nil, err
	}

	r := &run{id: uuid.NewString(), model: model, transform: transform, data: data}
	o.runID = r.id
	o.busyRun = r.id
	o.model = model
	o.transform = transform
	o.data = data
	o.record = &storage.RunRecord{
		ID:        r.id,
		Model:     string(model),
		Transform: string(transform),
		Rows:      len(data),
		Width:     data.Width(),
		StartedAt: time.Now(),
	}
	// The Validating transition fired before the run ID existed.
	for i := range o.pending {
		o.pending[i].RunID = r.id
	}
	o.transitionLocked(PhaseForecastPending)
	o.journalLocked()
	o.unlockAndNotify()

	logger.Info("Run %s started: model=%s transform=%s rows=%d", r.id, model, transform, len(data))
	return r, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	defer o.release(r)

	result, err := o.gateway.Forecast(ctx, r.model, r.transform, r.data)

	o.mu.Lock()
	if o.staleLocked(r) {
		o.mu.Unlock()
		logger.Info("Discarding forecast response for reset run %s", r.id)
		return ErrRunDiscarded
	}
	if err != nil {
		o.errText = MsgForecastErrorPrefix + err.Error()
		o.transitionLocked(PhaseIdle)
		o.journalLocked()
		o.unlockAndNotify()
		return err
	}
	o.result = result
	o.transitionLocked(PhaseForecastReady)
	o.transitionLocked(PhaseBasicExplainPending)
	o.unlockAndNotify()

	basic := o.gateway.BasicExplanation(r.model)

	o.mu.Lock()
	if o.staleLocked(r) {
		o.mu.Unlock()
		return ErrRunDiscarded
	}
	o.basic = basic
	o.transitionLocked(PhaseBasicExplainReady)
	o.transitionLocked(PhaseDetailedExplainPending)
	o.unlockAndNotify()

	exp, err := o.gateway.DetailedExplanation(ctx, r.model, r.transform, r.data)

	o.mu.Lock()
	if o.staleLocked(r) {
		o.mu.Unlock()
		logger.Info("Discarding explanation response for reset run %s", r.id)
		return ErrRunDiscarded
	}
	if err != nil {
		logger.Warn("SHAP generation failed for run %s: %v", r.id, err)
		o.transitionLocked(PhaseDetailedExplainFailed)
	} else {
		o.explanation = exp
		o.detailed = ranking.DetailedText(exp.Attributions, o.config.SummaryTopK)
		o.detailedOK = true
		o.transitionLocked(PhaseDetailedExplainReady)
	}
	o.transitionLocked(PhaseSettled)
	o.journalLocked()
	o.unlockAndNotify()

	logger.Info("Run %s settled: horizon=%d detailed=%t", r.id, result.Horizon(), err == nil)
	return nil
}

func (o *Orchestrator) release(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busyRun == r.id {
		o.busyRun = ""
	}
}

func (o *Orchestrator) staleLocked(r *run) bool {
	return o.runID != r.id
}

// Reset returns to Idle and clears every result, explanation and the error
// slot. An outstanding run keeps the single-flight guard until its pending
// call returns; its results are then discarded.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.clearLocked()
	if o.phase != PhaseIdle {
		o.transitionLocked(PhaseIdle)
	}
	o.unlockAndNotify()
	logger.Debug("Workflow reset")
}

func (o *Orchestrator) clearLocked() {
	o.runID = ""
	o.errText = ""
	o.detailedOK = false
	o.model = ""
	o.transform = ""
	o.data = nil
	o.result = nil
	o.basic = ""
	o.detailed = ""
	o.explanation = nil
	o.record = nil
}

func (o *Orchestrator) transitionLocked(to Phase) {
	t := Transition{
		RunID:  o.runID,
		From:   o.phase,
		To:     to,
		Stages: stagesFor(to, o.detailedOK),
		At:     time.Now(),
	}
	o.phase = to
	o.pending = append(o.pending, t)
	logger.Debug("Run %s: %s -> %s", t.RunID, t.From, t.To)
}

func (o *Orchestrator) unlockAndNotify() {
	pending := o.pending
	o.pending = nil
	listeners := append([]func(Transition){}, o.listeners...)
	o.mu.Unlock()

	for _, t := range pending {
		for _, fn := range listeners {
			fn(t)
		}
	}
}

func (o *Orchestrator) journalLocked() {
	if o.journal == nil || o.record == nil {
		return
	}
	rec := *o.record
	rec.Phase = o.phase.String()
	rec.Error = o.errText
	rec.DetailedOK = o.detailedOK
	rec.Result = o.result
	if o.explanation != nil {
		rec.Attributions = o.explanation.Attributions
	}
	rec.UpdatedAt = time.Now()
	if err := o.journal.RecordRun(&rec); err != nil {
		logger.Warn("Failed to journal run %s: %v", rec.ID, err)
	}
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Snapshot{
		RunID:               o.runID,
		Phase:               o.phase,
		Stages:              stagesFor(o.phase, o.detailedOK),
		Busy:                o.busyRun != "",
		Error:               o.errText,
		Model:               o.model,
		Transform:           o.transform,
		Rows:                len(o.data),
		Result:              o.result,
		BasicExplanation:    o.basic,
		DetailedExplanation: o.detailed,
		Explanation:         o.explanation,
	}
	if o.explanation != nil {
		s.Attributions = append(models.AttributionMap{}, o.explanation.Attributions...)
	}
	return s
}

// AssistantContext returns the model and attributions the conversational
// session embeds in its prompts.
func (o *Orchestrator) AssistantContext() (models.ModelID, models.AttributionMap) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.explanation == nil {
		return o.model, nil
	}
	return o.model, append(models.AttributionMap{}, o.explanation.Attributions...)
}
