// Package dashboard serves the browser dashboard and its JSON API on top of
// the workflow orchestrator and the conversational session.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rewired-gh/forecastlens/internal/chat"
	"github.com/rewired-gh/forecastlens/internal/gateway"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/storage"
	"github.com/rewired-gh/forecastlens/internal/workflow"
)

// Backend is the part of the gateway the dashboard calls directly.
type Backend interface {
	SubmitFeedback(ctx context.Context, correct bool, comments string) gateway.FeedbackStatus
	Ping(ctx context.Context) error
}

// Journal is the local record of runs and feedback.
type Journal interface {
	AddFeedback(fb *storage.FeedbackRecord) error
	ListRuns(limit int) ([]*storage.RunRecord, error)
}

// Config holds the listener and presentation settings.
type Config struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	ChartWidth       int
	ChartHeight      int
	MaxZoom          float64
	DefaultModel     models.ModelID
	DefaultTransform models.Transform
}

// Server is the dashboard HTTP server.
type Server struct {
	config    Config
	router    chi.Router
	templates *templateEngine

	orch    *workflow.Orchestrator
	session *chat.Session
	backend Backend
	journal Journal

	// dataset is the single submitted dataset; it survives Reset.
	mu      sync.Mutex
	dataset models.Dataset
}

func NewServer(cfg Config, orch *workflow.Orchestrator, session *chat.Session, backend Backend, journal Journal) (*Server, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:5173"
	}
	if cfg.ChartWidth <= 0 {
		cfg.ChartWidth = 960
	}
	if cfg.ChartHeight <= 0 {
		cfg.ChartHeight = 400
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = models.ModelLSTM
	}
	if cfg.DefaultTransform == "" {
		cfg.DefaultTransform = models.TransformNone
	}

	tmpl, err := newTemplateEngine()
	if err != nil {
		return nil, fmt.Errorf("initializing templates: %w", err)
	}

	s := &Server{
		config:    cfg,
		templates: tmpl,
		orch:      orch,
		session:   session,
		backend:   backend,
		journal:   journal,
	}
	s.router = s.buildRouter()
	return s, nil
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/chart", s.handleChart)

	r.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)
		r.Post("/data/csv", s.handleCSVUpload)
		r.Post("/data/manual", s.handleManualEntry)
		r.Get("/state", s.handleState)
		r.Post("/run", s.handleRun)
		r.Post("/reset", s.handleReset)
		r.Get("/chart", s.handleChartScene)
		r.Get("/chat", s.handleTranscript)
		r.Post("/chat", s.handleAsk)
		r.Post("/feedback", s.handleFeedback)
		r.Get("/runs", s.handleRuns)
	})

	return r
}

func (s *Server) currentDataset() models.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataset
}

func (s *Server) setDataset(d models.Dataset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataset = d
}
