package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rewired-gh/forecastlens/internal/gateway"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/storage"
)

type fakeGateway struct {
	mu sync.Mutex

	forecast    *models.ForecastResult
	forecastErr error
	explanation *models.Explanation
	explainErr  error

	// When set, Forecast blocks until a value is sent.
	forecastGate chan struct{}

	forecastCalls int
	explainCalls  int
	lastModel     models.ModelID
	lastData      models.Dataset
}

func (f *fakeGateway) Forecast(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.ForecastResult, error) {
	f.mu.Lock()
	f.forecastCalls++
	f.lastModel = model
	f.lastData = data
	gate := f.forecastGate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.forecastErr != nil {
		return nil, f.forecastErr
	}
	return f.forecast, nil
}

func (f *fakeGateway) BasicExplanation(model models.ModelID) string {
	return "basic " + string(model)
}

func (f *fakeGateway) DetailedExplanation(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.Explanation, error) {
	f.mu.Lock()
	f.explainCalls++
	f.mu.Unlock()
	if f.explainErr != nil {
		return nil, f.explainErr
	}
	return f.explanation, nil
}

func (f *fakeGateway) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forecastCalls, f.explainCalls
}

type memJournal struct {
	mu      sync.Mutex
	records []storage.RunRecord
}

func (j *memJournal) RecordRun(rec *storage.RunRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, *rec)
	return nil
}

func okGateway() *fakeGateway {
	return &fakeGateway{
		forecast: &models.ForecastResult{Forecast: models.Series{10, 11, 12}, Model: "cnn_lstm", Transform: "NONE", Status: "success"},
		explanation: &models.Explanation{Attributions: models.AttributionMap{
			{Label: "Timestep t0", Value: 0.05}, {Label: "Timestep t1", Value: -0.4}, {Label: "Timestep t2", Value: 0.2},
		}},
	}
}

var sample = models.Dataset{{1, 2}, {3, 4}, {5, 6}}

func TestRunHappyPath(t *testing.T) {
	gw := okGateway()
	journal := &memJournal{}
	o := New(gw, journal, DefaultConfig())

	var phases []Phase
	o.OnTransition(func(tr Transition) { phases = append(phases, tr.To) })

	if err := o.Run(context.Background(), sample, models.ModelCNNLSTM, models.TransformNone); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []Phase{
		PhaseValidating, PhaseForecastPending, PhaseForecastReady, PhaseBasicExplainPending,
		PhaseBasicExplainReady, PhaseDetailedExplainPending, PhaseDetailedExplainReady, PhaseSettled,
	}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phase %d = %s, want %s", i, phases[i], want[i])
		}
	}

	snap := o.Snapshot()
	if snap.Phase != PhaseSettled || snap.Busy || snap.Error != "" {
		t.Errorf("unexpected snapshot %+v", snap)
	}
	if snap.Stages != (Stages{Results: true, BasicExplanation: true, DetailedExplanation: true, Assistant: true, Feedback: true}) {
		t.Errorf("stages = %+v", snap.Stages)
	}
	if snap.BasicExplanation != "basic cnn-lstm" {
		t.Errorf("basic explanation = %q", snap.BasicExplanation)
	}
	wantDetailed := "Explanation of key contributors:\n" +
		"• Timestep t1 contributed negatively with a SHAP value of -0.4000.\n" +
		"• Timestep t2 contributed positively with a SHAP value of 0.2000.\n" +
		"• Timestep t0 contributed positively with a SHAP value of 0.0500."
	if snap.DetailedExplanation != wantDetailed {
		t.Errorf("detailed explanation = %q", snap.DetailedExplanation)
	}
	if gw.lastModel != models.ModelCNNLSTM || len(gw.lastData) != 3 {
		t.Errorf("gateway called with %s %v", gw.lastModel, gw.lastData)
	}

	model, attrs := o.AssistantContext()
	if model != models.ModelCNNLSTM || attrs.Len() != 3 {
		t.Errorf("AssistantContext = %s %v", model, attrs)
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.records) != 2 {
		t.Fatalf("expected 2 journal writes, got %d", len(journal.records))
	}
	last := journal.records[1]
	if last.Phase != "settled" || !last.DetailedOK || last.Result == nil || last.Attributions.Len() != 3 {
		t.Errorf("unexpected final journal record %+v", last)
	}
}

func TestRunStagesNeverGoOutOfOrder(t *testing.T) {
	for _, explainErr := range []error{nil, errors.New("boom")} {
		gw := okGateway()
		gw.explainErr = explainErr
		o := New(gw, nil, DefaultConfig())

		var stages []Stages
		o.OnTransition(func(tr Transition) { stages = append(stages, tr.Stages) })
		if err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformDCT); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		for i := 1; i < len(stages); i++ {
			prev, cur := stages[i-1], stages[i]
			if prev.Results && !cur.Results || prev.BasicExplanation && !cur.BasicExplanation ||
				prev.DetailedExplanation && !cur.DetailedExplanation {
				t.Errorf("stage regressed at %d: %+v -> %+v", i, prev, cur)
			}
			if cur.BasicExplanation && !cur.Results {
				t.Errorf("basic explanation before results: %+v", cur)
			}
			if cur.DetailedExplanation && !cur.BasicExplanation {
				t.Errorf("detailed explanation before basic: %+v", cur)
			}
			if cur.Results && !cur.Feedback {
				t.Errorf("feedback must follow results: %+v", cur)
			}
		}
	}
}

func TestRunDetailedFailureKeepsEarlierStages(t *testing.T) {
	gw := okGateway()
	gw.explainErr = &gateway.ExplanationError{Cause: errors.New("status 500")}
	o := New(gw, nil, DefaultConfig())

	var sawFailed bool
	o.OnTransition(func(tr Transition) {
		if tr.To == PhaseDetailedExplainFailed {
			sawFailed = true
		}
	})

	if err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone); err != nil {
		t.Fatalf("detailed failure must not fail the run: %v", err)
	}
	if !sawFailed {
		t.Error("expected detailed_explain_failed transition")
	}

	snap := o.Snapshot()
	if snap.Phase != PhaseSettled {
		t.Errorf("phase = %s", snap.Phase)
	}
	want := Stages{Results: true, BasicExplanation: true, Feedback: true}
	if snap.Stages != want {
		t.Errorf("stages = %+v, want %+v", snap.Stages, want)
	}
	if snap.Error != "" {
		t.Errorf("detailed failure must not populate the error slot, got %q", snap.Error)
	}
	if snap.Result == nil || snap.Attributions != nil {
		t.Errorf("unexpected result/attributions: %+v %+v", snap.Result, snap.Attributions)
	}
}

func TestRunEmptyDatasetMakesNoCalls(t *testing.T) {
	for _, data := range []models.Dataset{nil, {}} {
		gw := okGateway()
		o := New(gw, nil, DefaultConfig())

		err := o.Run(context.Background(), data, models.ModelLSTM, models.TransformNone)
		var verr *models.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if f, e := gw.calls(); f != 0 || e != 0 {
			t.Errorf("expected no gateway calls, got forecast=%d explain=%d", f, e)
		}

		snap := o.Snapshot()
		if snap.Error != models.MsgNoData {
			t.Errorf("error slot = %q", snap.Error)
		}
		if snap.Phase != PhaseIdle || snap.Busy {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	}
}

func TestRunForecastFailure(t *testing.T) {
	gw := okGateway()
	gw.forecastErr = &gateway.ForecastError{Cause: errors.New("status 500")}
	o := New(gw, nil, DefaultConfig())

	err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone)
	var ferr *gateway.ForecastError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected ForecastError, got %v", err)
	}
	if _, e := gw.calls(); e != 0 {
		t.Error("forecast failure must abort the remaining stages")
	}

	snap := o.Snapshot()
	if snap.Error != "Error running forecast: "+gateway.MsgForecastFailed {
		t.Errorf("error slot = %q", snap.Error)
	}
	if snap.Stages != (Stages{}) || snap.Result != nil {
		t.Errorf("no stage should be visible: %+v", snap)
	}

	// A new run clears the error slot.
	gw.forecastErr = nil
	if err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if o.Snapshot().Error != "" {
		t.Error("error slot should be cleared by a new run")
	}
}

func TestRunRejectsOverlap(t *testing.T) {
	gw := okGateway()
	gw.forecastGate = make(chan struct{})
	o := New(gw, nil, DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone) }()

	waitFor(t, func() bool { f, _ := gw.calls(); return f == 1 })
	if !o.Snapshot().Busy {
		t.Error("expected busy while forecast is outstanding")
	}

	if err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := o.Submit(context.Background(), sample, models.ModelLSTM, models.TransformNone); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress from Submit, got %v", err)
	}

	close(gw.forecastGate)
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if o.Snapshot().Busy {
		t.Error("busy should be released after the run settles")
	}
}

func TestResetDiscardsStaleResponse(t *testing.T) {
	gw := okGateway()
	gw.forecastGate = make(chan struct{})
	journal := &memJournal{}
	o := New(gw, journal, DefaultConfig())

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background(), sample, models.ModelCNNLSTM, models.TransformNone) }()
	waitFor(t, func() bool { f, _ := gw.calls(); return f == 1 })

	o.Reset()
	snap := o.Snapshot()
	if snap.Phase != PhaseIdle || snap.RunID != "" {
		t.Errorf("unexpected snapshot after reset: %+v", snap)
	}

	var resurrected bool
	o.OnTransition(func(tr Transition) { resurrected = true })

	close(gw.forecastGate)
	if err := <-done; !errors.Is(err, ErrRunDiscarded) {
		t.Fatalf("expected ErrRunDiscarded, got %v", err)
	}

	snap = o.Snapshot()
	if resurrected || snap.Result != nil || snap.Stages != (Stages{}) || snap.Phase != PhaseIdle {
		t.Errorf("stale response resurrected state: %+v", snap)
	}
	if snap.Busy {
		t.Error("busy should be released once the stale run returns")
	}
	if _, e := gw.calls(); e != 0 {
		t.Error("stale run must not continue to the explanation stage")
	}

	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.records) != 1 {
		t.Errorf("stale run must not be journaled again, got %d records", len(journal.records))
	}
}

func TestResetClearsEverything(t *testing.T) {
	gw := okGateway()
	o := New(gw, nil, DefaultConfig())
	if err := o.Run(context.Background(), sample, models.ModelLSTM, models.TransformNone); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	o.Reset()
	snap := o.Snapshot()
	if snap.Phase != PhaseIdle || snap.Result != nil || snap.BasicExplanation != "" ||
		snap.DetailedExplanation != "" || snap.Attributions != nil || snap.Error != "" || snap.Stages != (Stages{}) {
		t.Errorf("reset left state behind: %+v", snap)
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	gw := okGateway()
	o := New(gw, nil, DefaultConfig())

	settled := make(chan string, 1)
	o.OnTransition(func(tr Transition) {
		if tr.To == PhaseSettled {
			settled <- tr.RunID
		}
	})

	id, err := o.Submit(context.Background(), sample, models.ModelTransformer, models.TransformCS)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	select {
	case got := <-settled:
		if got != id {
			t.Errorf("settled run %s, want %s", got, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not settle")
	}
}

func TestPhaseString(t *testing.T) {
	if PhaseDetailedExplainFailed.String() != "detailed_explain_failed" {
		t.Errorf("String() = %q", PhaseDetailedExplainFailed.String())
	}
	if Phase(99).String() != "unknown" {
		t.Error("out of range phase should be unknown")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
