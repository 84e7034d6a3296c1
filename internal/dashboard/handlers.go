package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rewired-gh/forecastlens/internal/chart"
	"github.com/rewired-gh/forecastlens/internal/chat"
	"github.com/rewired-gh/forecastlens/internal/datainput"
	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/ranking"
	"github.com/rewired-gh/forecastlens/internal/storage"
	"github.com/rewired-gh/forecastlens/internal/workflow"
)

const (
	maxUploadBytes = 10 << 20
	previewRows    = 5
	defaultRunList = 20

	msgCSVPrefix      = "Error processing CSV: "
	msgManualPrefix   = "Error parsing data: "
	msgNoResults      = "No forecast results yet"
	msgAssistantLock  = "The assistant is available once a detailed explanation is ready"
	msgFeedbackChoice = "Please select whether the forecast was accurate or inaccurate"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := PageData{
		Title:            "Dashboard",
		Models:           models.ModelCatalog(),
		Transforms:       models.TransformCatalog(),
		DefaultModel:     string(s.config.DefaultModel),
		DefaultTransform: string(s.config.DefaultTransform),
		Transcript:       turnViews(s.session.Transcript()),
	}
	if err := s.templates.Render(w, "index.html", data); err != nil {
		logger.Error("Error rendering index: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// handleHealth reports the dashboard and, separately, the forecast service.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backend := "ok"
	if err := s.backend.Ping(ctx); err != nil {
		logger.Debug("Backend health check failed: %v", err)
		backend = "unreachable"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "backend": backend})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models":            models.ModelCatalog(),
		"transforms":        models.TransformCatalog(),
		"default_model":     s.config.DefaultModel,
		"default_transform": s.config.DefaultTransform,
	})
}

type datasetView struct {
	Rows    int                `json:"rows"`
	Width   int                `json:"width"`
	Preview []models.DataPoint `json:"preview,omitempty"`
}

func viewDataset(d models.Dataset) datasetView {
	v := datasetView{Rows: len(d), Width: d.Width()}
	if len(d) > previewRows {
		v.Preview = d[:previewRows]
	} else {
		v.Preview = d
	}
	return v
}

func (s *Server) handleCSVUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, msgCSVPrefix+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, msgCSVPrefix+err.Error())
		return
	}
	defer file.Close()

	if err := datainput.CheckFilename(header.Filename); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := datainput.ParseCSV(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgCSVPrefix+err.Error())
		return
	}

	s.setDataset(data)
	logger.Info("Loaded CSV %s: rows=%d width=%d", header.Filename, len(data), data.Width())
	writeJSON(w, http.StatusOK, viewDataset(data))
}

type manualRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleManualEntry(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgManualPrefix+err.Error())
		return
	}
	data, err := datainput.ParseManual(req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgManualPrefix+err.Error())
		return
	}

	s.setDataset(data)
	writeJSON(w, http.StatusOK, viewDataset(data))
}

type stateView struct {
	workflow.Snapshot
	Panel    *ranking.Panel `json:"panel,omitempty"`
	Dataset  datasetView    `json:"dataset"`
	ChatBusy bool           `json:"chat_busy"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	view := stateView{
		Snapshot: snap,
		Dataset:  viewDataset(s.currentDataset()),
		ChatBusy: s.session.Busy(),
	}
	if snap.Stages.DetailedExplanation {
		panel := ranking.BuildPanel(snap.Attributions, r.URL.Query().Get("expanded") == "1")
		view.Panel = &panel
	}
	writeJSON(w, http.StatusOK, view)
}

type runRequest struct {
	Model     string `json:"model"`
	Transform string `json:"transform"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	model := s.config.DefaultModel
	if req.Model != "" {
		m, err := models.ParseModel(req.Model)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		model = m
	}
	transform := s.config.DefaultTransform
	if req.Transform != "" {
		t, err := models.ParseTransform(req.Transform)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		transform = t
	}

	// The run outlives this request.
	runID, err := s.orch.Submit(context.WithoutCancel(r.Context()), s.currentDataset(), model, transform)
	var verr *models.ValidationError
	switch {
	case errors.Is(err, workflow.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Message)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.orch.Reset()
	s.session.Clear()
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// viewport parses zoom (scale) and offset (pixels) query values.
func (s *Server) viewport(r *http.Request, scene chart.Scene) chart.Viewport {
	v := chart.NewViewport(s.config.MaxZoom)
	q := r.URL.Query()
	if zoom, err := strconv.ParseFloat(q.Get("zoom"), 64); err == nil {
		v = v.ZoomTo(zoom, 0, scene.InnerWidth)
	}
	if offset, err := strconv.ParseFloat(q.Get("offset"), 64); err == nil {
		v = v.Pan(offset, scene.InnerWidth)
	}
	return v
}

func (s *Server) scene(r *http.Request) (chart.Scene, bool) {
	snap := s.orch.Snapshot()
	if !snap.Stages.Results || snap.Result == nil {
		return chart.Scene{}, false
	}
	mode := chart.ParseMode(r.URL.Query().Get("mode"))
	return chart.BuildScene(snap.Result, mode, float64(s.config.ChartWidth), float64(s.config.ChartHeight)), true
}

// handleChart renders the interactive chart page embedded by the dashboard.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	scene, ok := s.scene(r)
	if !ok {
		http.Error(w, msgNoResults, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := chart.Render(w, scene, s.viewport(r, scene), "Forecast Results"); err != nil {
		logger.Error("Error rendering chart: %v", err)
	}
}

type chartView struct {
	Scene   chart.Scene    `json:"scene"`
	View    chart.Viewport `json:"viewport"`
	Start   float64        `json:"window_start"`
	End     float64        `json:"window_end"`
	Tooltip chart.Tooltip  `json:"tooltip"`
}

// handleChartScene returns the laid-out scene; px and py resolve a hover.
func (s *Server) handleChartScene(w http.ResponseWriter, r *http.Request) {
	scene, ok := s.scene(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgNoResults)
		return
	}
	v := s.viewport(r, scene)
	view := chartView{Scene: scene, View: v}
	view.Start, view.End = v.Window(scene.InnerWidth)

	q := r.URL.Query()
	px, errX := strconv.ParseFloat(q.Get("px"), 64)
	py, errY := strconv.ParseFloat(q.Get("py"), 64)
	if errX == nil && errY == nil {
		view.Tooltip = chart.Hover(scene, v, px, py)
	}
	writeJSON(w, http.StatusOK, view)
}

type turnView struct {
	ID      string      `json:"id"`
	Role    models.Role `json:"role"`
	Content string      `json:"content"`
	HTML    string      `json:"html"`
	At      time.Time   `json:"at"`
}

func turnViews(turns []models.Turn) []turnView {
	out := make([]turnView, len(turns))
	for i, t := range turns {
		out[i] = turnView{ID: t.ID, Role: t.Role, Content: t.Content, HTML: string(markdownToHTML(t.Content)), At: t.At}
	}
	return out
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"turns": turnViews(s.session.Transcript()),
		"busy":  s.session.Busy(),
	})
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.orch.Snapshot().Stages.Assistant {
		writeError(w, http.StatusConflict, msgAssistantLock)
		return
	}

	turn, err := s.session.Ask(r.Context(), req.Question)
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrBusy), errors.Is(err, chat.ErrCleared):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, turnViews([]models.Turn{turn})[0])
}

type feedbackRequest struct {
	Correct  *bool  `json:"correct"`
	Comments string `json:"comments"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Correct == nil {
		writeError(w, http.StatusBadRequest, msgFeedbackChoice)
		return
	}
	snap := s.orch.Snapshot()
	if !snap.Stages.Feedback {
		writeError(w, http.StatusConflict, msgNoResults)
		return
	}

	status := s.backend.SubmitFeedback(r.Context(), *req.Correct, req.Comments)

	rec := &storage.FeedbackRecord{
		ID:        uuid.NewString(),
		RunID:     snap.RunID,
		Correct:   *req.Correct,
		Comments:  req.Comments,
		Delivered: !status.Local,
		Message:   status.Message,
		CreatedAt: time.Now(),
	}
	if err := s.journal.AddFeedback(rec); err != nil {
		logger.Warn("Failed to journal feedback: %v", err)
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunList
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	runs, err := s.journal.ListRuns(limit)
	if err != nil {
		logger.Error("Failed to list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
