package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"

gateway:
  base_url: "http://forecast.internal:8000"
  timeout: 45s

assistant:
  provider: openai
  url: "http://localhost:11434/v1"
  model: "llama3"

workflow:
  default_model: cnn-lstm
  default_transform: dct
  summary_top_k: 3

telegram:
  bot_token: "test_token"
  chat_id: "test_chat_id"
  enabled: true

storage:
  max_runs: 50
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Errorf("Unexpected server addr: %s", cfg.Server.Addr)
	}
	if cfg.Gateway.Timeout != 45*time.Second {
		t.Errorf("Unexpected gateway timeout: %v", cfg.Gateway.Timeout)
	}
	if cfg.Assistant.Provider != "openai" {
		t.Errorf("Unexpected assistant provider: %s", cfg.Assistant.Provider)
	}
	if cfg.Workflow.DefaultModel != "cnn-lstm" {
		t.Errorf("Unexpected default model: %s", cfg.Workflow.DefaultModel)
	}
	if cfg.Storage.MaxRuns != 50 {
		t.Errorf("Unexpected max runs: %d", cfg.Storage.MaxRuns)
	}

	// Untouched sections keep their defaults.
	if cfg.Chart.Height != 400 {
		t.Errorf("Expected default chart height 400, got %d", cfg.Chart.Height)
	}
	if cfg.Chart.MaxZoom != 8 {
		t.Errorf("Expected default max zoom 8, got %v", cfg.Chart.MaxZoom)
	}
	if cfg.Telegram.MaxRetries != 3 {
		t.Errorf("Expected default telegram retries 3, got %d", cfg.Telegram.MaxRetries)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("FORECASTLENS_GATEWAY_BASE_URL", "http://env-host:8000")
	t.Setenv("FORECASTLENS_ASSISTANT_MODEL", "mistral")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gateway.BaseURL != "http://env-host:8000" {
		t.Errorf("Expected env override for base url, got %s", cfg.Gateway.BaseURL)
	}
	if cfg.Assistant.Model != "mistral" {
		t.Errorf("Expected env override for assistant model, got %s", cfg.Assistant.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/forecastlens.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func validConfig() *Config {
	return &Config{
		Server:    ServerConfig{Addr: "127.0.0.1:5173"},
		Gateway:   GatewayConfig{BaseURL: "http://localhost:8000", Timeout: time.Minute},
		Assistant: AssistantConfig{Provider: "ollama", URL: "http://localhost:11434/api/generate", Model: "llama2"},
		Workflow:  WorkflowConfig{DefaultModel: "lstm", DefaultTransform: "NONE", SummaryTopK: 3},
		Chart:     ChartConfig{Width: 960, Height: 400, MaxZoom: 8},
		Storage:   StorageConfig{MaxRuns: 100},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "lower-case transform accepted", mutate: func(c *Config) { c.Workflow.DefaultTransform = "dwt" }, wantErr: false},
		{name: "missing base url", mutate: func(c *Config) { c.Gateway.BaseURL = "" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Gateway.Timeout = -time.Second }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.Assistant.Provider = "bard" }, wantErr: true},
		{name: "unknown model", mutate: func(c *Config) { c.Workflow.DefaultModel = "arima" }, wantErr: true},
		{name: "unknown transform", mutate: func(c *Config) { c.Workflow.DefaultTransform = "FFT" }, wantErr: true},
		{name: "zero top k", mutate: func(c *Config) { c.Workflow.SummaryTopK = 0 }, wantErr: true},
		{name: "tiny chart", mutate: func(c *Config) { c.Chart.Height = 10 }, wantErr: true},
		{name: "zoom below one", mutate: func(c *Config) { c.Chart.MaxZoom = 0.5 }, wantErr: true},
		{name: "zoom above eight", mutate: func(c *Config) { c.Chart.MaxZoom = 50 }, wantErr: true},
		{name: "zoom between bounds", mutate: func(c *Config) { c.Chart.MaxZoom = 4 }, wantErr: false},
		{
			name: "missing telegram token when enabled",
			mutate: func(c *Config) {
				c.Telegram.Enabled = true
				c.Telegram.ChatID = "42"
			},
			wantErr: true,
		},
		{name: "zero max runs", mutate: func(c *Config) { c.Storage.MaxRuns = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: true},
		{name: "bad log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
