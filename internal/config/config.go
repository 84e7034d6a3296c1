package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Chart     ChartConfig     `mapstructure:"chart"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the dashboard HTTP listener configuration
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GatewayConfig holds the forecast/explanation/feedback service configuration.
// Timeout is a transport setting; the gateway adds no retries of its own.
type GatewayConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`
}

// AssistantConfig holds the conversational assistant backend configuration
type AssistantConfig struct {
	Provider string        `mapstructure:"provider"` // "ollama" or "openai"
	URL      string        `mapstructure:"url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// WorkflowConfig holds orchestrator defaults
type WorkflowConfig struct {
	DefaultModel     string `mapstructure:"default_model"`
	DefaultTransform string `mapstructure:"default_transform"`
	SummaryTopK      int    `mapstructure:"summary_top_k"`
}

// ChartConfig holds forecast chart dimensions
type ChartConfig struct {
	Width   int     `mapstructure:"width"`
	Height  int     `mapstructure:"height"`
	MaxZoom float64 `mapstructure:"max_zoom"`
}

// TelegramConfig holds Telegram front-end configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the local journal configuration
type StorageConfig struct {
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// FORECASTLENS_GATEWAY_BASE_URL overrides gateway.base_url, and so on.
	v.SetEnvPrefix("FORECASTLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "127.0.0.1:5173")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")

	v.SetDefault("gateway.base_url", "http://localhost:8000")
	v.SetDefault("gateway.timeout", "2m")
	v.SetDefault("gateway.max_idle_conns", 10)
	v.SetDefault("gateway.idle_conn_timeout", "90s")

	v.SetDefault("assistant.provider", "ollama")
	v.SetDefault("assistant.url", "http://localhost:11434/api/generate")
	v.SetDefault("assistant.model", "llama2")
	v.SetDefault("assistant.timeout", "2m")

	v.SetDefault("workflow.default_model", "lstm")
	v.SetDefault("workflow.default_transform", "NONE")
	v.SetDefault("workflow.summary_top_k", 3)

	v.SetDefault("chart.width", 960)
	v.SetDefault("chart.height", 400)
	v.SetDefault("chart.max_zoom", 8.0)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.max_runs", 500)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required")
	}
	if c.Gateway.Timeout < 0 {
		return fmt.Errorf("gateway.timeout must not be negative")
	}

	validProviders := map[string]bool{"ollama": true, "openai": true}
	if !validProviders[c.Assistant.Provider] {
		return fmt.Errorf("assistant.provider must be one of: ollama, openai")
	}
	if c.Assistant.URL == "" {
		return fmt.Errorf("assistant.url is required")
	}
	if c.Assistant.Model == "" {
		return fmt.Errorf("assistant.model is required")
	}

	validModels := map[string]bool{"lstm": true, "cnn-lstm": true, "transformer": true}
	if !validModels[c.Workflow.DefaultModel] {
		return fmt.Errorf("workflow.default_model must be one of: lstm, cnn-lstm, transformer")
	}
	validTransforms := map[string]bool{"DCT": true, "DWT": true, "CS": true, "NONE": true, "RAW": true}
	if !validTransforms[strings.ToUpper(c.Workflow.DefaultTransform)] {
		return fmt.Errorf("workflow.default_transform must be one of: DCT, DWT, CS, NONE, RAW")
	}
	if c.Workflow.SummaryTopK < 1 {
		return fmt.Errorf("workflow.summary_top_k must be at least 1")
	}

	if c.Chart.Width < 100 || c.Chart.Height < 100 {
		return fmt.Errorf("chart.width and chart.height must be at least 100")
	}
	if c.Chart.MaxZoom < 1 || c.Chart.MaxZoom > 8 {
		return fmt.Errorf("chart.max_zoom must be between 1 and 8")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
