package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
)

// MsgAssistantUnavailable prefixes the reply used when the assistant fails.
const MsgAssistantUnavailable = "Unable to generate AI response currently. SHAP values: "

// Assistant generates a reply for a fully constructed prompt.
type Assistant interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AskAssistant never fails: on any error the reply echoes the attribution
// scores so the conversation always gets an answer.
func (c *Client) AskAssistant(ctx context.Context, prompt string, attributions models.AttributionMap) string {
	if c.assistant == nil {
		return fallbackReply(attributions)
	}

	reply, err := c.assistant.Generate(ctx, prompt)
	if err != nil {
		logger.Warn("Assistant request failed: %v", err)
		return fallbackReply(attributions)
	}
	return reply
}

func fallbackReply(attributions models.AttributionMap) string {
	if attributions == nil {
		attributions = models.AttributionMap{}
	}
	data, err := json.Marshal(attributions)
	if err != nil {
		return MsgAssistantUnavailable + "{}"
	}
	return MsgAssistantUnavailable + string(data)
}

// OllamaAssistant calls a generate endpoint with streaming disabled.
type OllamaAssistant struct {
	url        string
	model      string
	httpClient *http.Client
}

func NewOllamaAssistant(url, model string, timeout time.Duration) *OllamaAssistant {
	return &OllamaAssistant{
		url:        url,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generate returns the "response" field, or the whole body re-encoded when
// that field is missing or empty. The status code is not inspected.
func (a *OllamaAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{Model: a.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode reply: %w", err)
	}

	if obj, ok := body.(map[string]interface{}); ok {
		if text, ok := obj["response"].(string); ok && text != "" {
			return text, nil
		}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// OpenAIAssistant uses any OpenAI-compatible chat completions endpoint.
type OpenAIAssistant struct {
	client openai.Client
	model  string
}

func NewOpenAIAssistant(apiKey, baseURL, model string, timeout time.Duration) *OpenAIAssistant {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAIAssistant{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (a *OpenAIAssistant) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: a.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("completion is empty")
	}
	return content, nil
}
