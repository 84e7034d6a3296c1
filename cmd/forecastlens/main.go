package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/forecastlens/internal/chat"
	"github.com/rewired-gh/forecastlens/internal/config"
	"github.com/rewired-gh/forecastlens/internal/dashboard"
	"github.com/rewired-gh/forecastlens/internal/gateway"
	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/storage"
	"github.com/rewired-gh/forecastlens/internal/telegram"
	"github.com/rewired-gh/forecastlens/internal/workflow"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// A missing .env is fine; the environment may already be populated.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxRuns, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	gw := gateway.NewClient(gateway.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		Timeout:         cfg.Gateway.Timeout,
		MaxIdleConns:    cfg.Gateway.MaxIdleConns,
		IdleConnTimeout: cfg.Gateway.IdleConnTimeout,
	}, newAssistant(cfg.Assistant))

	orch := workflow.New(gw, store, workflow.Config{SummaryTopK: cfg.Workflow.SummaryTopK})
	session := chat.NewSession(gw, orch)

	// Validate has already checked both values.
	defaultModel, _ := models.ParseModel(cfg.Workflow.DefaultModel)
	defaultTransform, _ := models.ParseTransform(cfg.Workflow.DefaultTransform)

	srv, err := dashboard.NewServer(dashboard.Config{
		Addr:             cfg.Server.Addr,
		ReadTimeout:      cfg.Server.ReadTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
		ChartWidth:       cfg.Chart.Width,
		ChartHeight:      cfg.Chart.Height,
		MaxZoom:          cfg.Chart.MaxZoom,
		DefaultModel:     defaultModel,
		DefaultTransform: defaultTransform,
	}, orch, session, gw, store)
	if err != nil {
		logger.Fatal("Failed to initialize dashboard: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegramClient.Attach(orch, session)
		telegramClient.ListenForCommands(ctx)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram front-end disabled")
	}

	go func() {
		flushCtx, flushCancel := context.WithTimeout(ctx, time.Minute)
		defer flushCancel()
		if _, err := dashboard.FlushFeedback(flushCtx, gw, store); err != nil {
			logger.Warn("Failed to flush pending feedback: %v", err)
		}
	}()

	logger.Info("Dashboard listening on http://%s (backend: %s, assistant: %s/%s)",
		cfg.Server.Addr,
		cfg.Gateway.BaseURL,
		cfg.Assistant.Provider,
		cfg.Assistant.Model,
	)

	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Dashboard server failed: %v", err)
	}
	logger.Info("Service stopped")
}

func newAssistant(cfg config.AssistantConfig) gateway.Assistant {
	switch cfg.Provider {
	case "openai":
		return gateway.NewOpenAIAssistant(cfg.APIKey, cfg.URL, cfg.Model, cfg.Timeout)
	default:
		return gateway.NewOllamaAssistant(cfg.URL, cfg.Model, cfg.Timeout)
	}
}
