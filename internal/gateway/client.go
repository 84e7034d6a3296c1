// Package gateway talks to the remote forecast, explanation, assistant and
// feedback services. Every call is a single request/response exchange; the
// transport timeout comes from configuration and nothing is retried here.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
)

// Config holds the remote service settings.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// Client provides access to the model-serving backend and the assistant.
type Client struct {
	baseURL    string
	httpClient *http.Client
	assistant  Assistant
}

// NewClient creates a gateway client. A nil assistant disables replies; every
// ask then degrades to the fallback text.
func NewClient(cfg Config, assistant Assistant) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.MaxIdleConns > 0 {
		transport.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.IdleConnTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleConnTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		assistant: assistant,
	}
}

type forecastRequest struct {
	Model     string         `json:"model"`
	Transform string         `json:"transform"`
	Data      models.Dataset `json:"data"`
}

// Forecast requests a forecast for data. Any failure is reported as a
// ForecastError carrying a generic message.
func (c *Client) Forecast(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.ForecastResult, error) {
	body := forecastRequest{
		Model:     model.WireName(),
		Transform: string(transform),
		Data:      data,
	}

	var result models.ForecastResult
	if err := c.postJSON(ctx, "/forecast", body, &result); err != nil {
		logger.Error("Forecast API error: %v", err)
		return nil, &ForecastError{Cause: err}
	}

	if result.Model == "" {
		result.Model = string(model)
	}
	if result.Transform == "" {
		result.Transform = string(transform)
	}
	logger.Debug("Forecast received: model=%s transform=%s horizon=%d baseline=%d",
		result.Model, result.Transform, len(result.Forecast), len(result.Baseline))
	return &result, nil
}

type explanationRequest struct {
	Model     string    `json:"model"`
	Transform string    `json:"transform"`
	Data      []float64 `json:"data"`
}

// DetailedExplanation requests attribution scores. The dataset is flattened
// into a single sequence before it is sent.
func (c *Client) DetailedExplanation(ctx context.Context, model models.ModelID, transform models.Transform, data models.Dataset) (*models.Explanation, error) {
	body := explanationRequest{
		Model:     model.WireName(),
		Transform: string(transform),
		Data:      data.Flatten(),
	}

	var raw map[string]json.RawMessage
	if err := c.postJSON(ctx, "/shap-summary", body, &raw); err != nil {
		logger.Error("SHAP summary API error: %v", err)
		return nil, &ExplanationError{Cause: err}
	}

	exp, err := parseExplanation(raw)
	if err != nil {
		logger.Error("SHAP summary API error: %v", err)
		return nil, &ExplanationError{Cause: err}
	}
	return exp, nil
}

// FeedbackStatus is the feedback sink's answer. Local is set when the sink
// could not be reached and the status was synthesized.
type FeedbackStatus struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	FeedbackID int    `json:"feedback_id,omitempty"`
	Local      bool   `json:"-"`
}

// LocalFeedbackStatus is returned when the feedback sink fails.
var LocalFeedbackStatus = FeedbackStatus{Status: "success", Message: "Feedback saved locally.", Local: true}

type feedbackRequest struct {
	Correct  bool   `json:"correct"`
	Comments string `json:"comments"`
}

// SubmitFeedback posts a user verdict. It never fails.
func (c *Client) SubmitFeedback(ctx context.Context, correct bool, comments string) FeedbackStatus {
	var status FeedbackStatus
	if err := c.postJSON(ctx, "/feedback", feedbackRequest{Correct: correct, Comments: comments}, &status); err != nil {
		logger.Warn("Feedback API error: %v", err)
		return LocalFeedbackStatus
	}
	return status
}

// Ping checks that the backend answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// postJSON sends body to path and decodes a 2xx response into out. On any
// other status the service's "detail" field becomes the error text.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && len(body.Detail) > 0 {
		var detail string
		if json.Unmarshal(body.Detail, &detail) == nil {
			return fmt.Errorf("status %d: %s", resp.StatusCode, detail)
		}
		// FastAPI validation errors carry a list here.
		return fmt.Errorf("status %d: %s", resp.StatusCode, body.Detail)
	}
	if len(data) > 0 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return fmt.Errorf("status %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}
