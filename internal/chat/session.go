// Package chat holds the conversational session: an append-only transcript
// with at most one outstanding assistant request.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
)

// Greeting seeds every transcript.
const Greeting = "Hello! I can help explain the forecast results and SHAP values. What would you like to know?"

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrBusy          = errors.New("the assistant is still answering the previous question")
	// ErrCleared is returned when the transcript was cleared while the reply was pending.
	ErrCleared = errors.New("conversation was cleared")
)

// Assistant answers prompts. Implementations never fail; a degraded reply is
// still a reply.
type Assistant interface {
	AskAssistant(ctx context.Context, prompt string, attributions models.AttributionMap) string
}

// ContextSource supplies the current model and attributions, read-only.
type ContextSource interface {
	AssistantContext() (models.ModelID, models.AttributionMap)
}

type Session struct {
	assistant Assistant
	source    ContextSource

	mu         sync.Mutex
	transcript []models.Turn
	busy       bool
	generation int
}

func NewSession(assistant Assistant, source ContextSource) *Session {
	s := &Session{assistant: assistant, source: source}
	s.transcript = []models.Turn{newTurn(models.RoleAssistant, Greeting)}
	return s
}

func newTurn(role models.Role, content string) models.Turn {
	return models.Turn{
		ID:      ulid.Make().String(),
		Role:    role,
		Content: content,
		At:      time.Now(),
	}
}

// Ask appends the user's question, waits for one assistant reply and appends
// it. Empty questions and questions asked while busy are rejected without
// touching the transcript.
func (s *Session) Ask(ctx context.Context, text string) (models.Turn, error) {
	if strings.TrimSpace(text) == "" {
		return models.Turn{}, ErrEmptyQuestion
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return models.Turn{}, ErrBusy
	}
	s.busy = true
	s.transcript = append(s.transcript, newTurn(models.RoleUser, text))
	gen := s.generation
	s.mu.Unlock()

	model, attrs := s.source.AssistantContext()
	prompt := BuildPrompt(text, model, attrs)
	logger.Debug("Asking assistant: model=%s attributions=%d prompt_len=%d", model, attrs.Len(), len(prompt))

	reply := s.assistant.AskAssistant(ctx, prompt, attrs)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if gen != s.generation {
		logger.Debug("Dropping assistant reply for a cleared conversation")
		return models.Turn{}, ErrCleared
	}
	turn := newTurn(models.RoleAssistant, reply)
	s.transcript = append(s.transcript, turn)
	return turn, nil
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Transcript returns a copy of all turns.
func (s *Session) Transcript() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.transcript...)
}

// Clear resets the transcript to the greeting. A pending reply is dropped
// when it arrives.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.transcript = []models.Turn{newTurn(models.RoleAssistant, Greeting)}
}
