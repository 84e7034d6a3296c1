// Package telegram provides an optional chat front-end over the Telegram Bot API:
// status and assistant commands plus run notifications.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/forecastlens/internal/chat"
	"github.com/rewired-gh/forecastlens/internal/logger"
	"github.com/rewired-gh/forecastlens/internal/models"
	"github.com/rewired-gh/forecastlens/internal/ranking"
	"github.com/rewired-gh/forecastlens/internal/workflow"
)

// noticeTopK is the number of contributors listed in a run notice.
const noticeTopK = 3

// MsgAssistantLocked is the /ask reply before a detailed explanation exists.
const MsgAssistantLocked = "The assistant becomes available once a detailed explanation is ready."

// botAPI is the subset of *tgbotapi.BotAPI the client uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StateSource exposes the orchestrator state.
type StateSource interface {
	Snapshot() workflow.Snapshot
}

// Asker is the conversational session.
type Asker interface {
	Ask(ctx context.Context, text string) (models.Turn, error)
}

// Client handles Telegram commands and notifications.
type Client struct {
	bot            botAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration

	state StateSource
	asker Asker
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot botAPI, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// Attach connects the client to the orchestrator and the conversational
// session. Settled runs and failed forecasts are announced in the chat.
func (c *Client) Attach(o *workflow.Orchestrator, asker Asker) {
	c.state = o
	c.asker = asker
	o.OnTransition(func(t workflow.Transition) {
		go c.notify(t)
	})
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(ctx, update.Message)
				}
			}
		}
	}()
}

// handleCommand answers commands from the configured chat only.
func (c *Client) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	if msg.Chat.ID != c.chatID {
		logger.Debug("Ignoring Telegram command from chat %d", msg.Chat.ID)
		return
	}
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "ping":
		c.reply(chatID, "Pong")
	case "status":
		c.reply(chatID, c.statusText())
	case "ask":
		// The assistant can take minutes; keep polling meanwhile.
		question := msg.CommandArguments()
		go func() {
			c.reply(chatID, c.askText(ctx, question))
		}()
	}
}

func (c *Client) reply(chatID int64, text string) {
	if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		logger.Warn("Failed to send Telegram reply: %v", err)
	}
}

func (c *Client) statusText() string {
	if c.state == nil {
		return "No forecast workflow attached."
	}
	s := c.state.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Phase: %s\n", s.Phase)
	if s.Busy {
		b.WriteString("A run is in progress.\n")
	}
	if s.Model != "" {
		fmt.Fprintf(&b, "Model: %s, transform: %s, rows: %d\n", s.Model, s.Transform, s.Rows)
	}
	fmt.Fprintf(&b, "Results: %s\n", yesNo(s.Stages.Results))
	fmt.Fprintf(&b, "Basic explanation: %s\n", yesNo(s.Stages.BasicExplanation))
	fmt.Fprintf(&b, "Detailed explanation: %s\n", yesNo(s.Stages.DetailedExplanation))
	fmt.Fprintf(&b, "Assistant: %s", yesNo(s.Stages.Assistant))
	if s.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", s.Error)
	}
	return b.String()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (c *Client) askText(ctx context.Context, question string) string {
	if c.asker == nil || c.state == nil || !c.state.Snapshot().Stages.Assistant {
		return MsgAssistantLocked
	}
	turn, err := c.asker.Ask(ctx, question)
	switch {
	case errors.Is(err, chat.ErrEmptyQuestion):
		return "Usage: /ask <question>"
	case errors.Is(err, chat.ErrBusy):
		return "Still answering the previous question, try again shortly."
	case err != nil:
		return fmt.Sprintf("Question dropped: %v", err)
	}
	return turn.Content
}

func (c *Client) notify(t workflow.Transition) {
	if c.state == nil {
		return
	}
	var text string
	switch {
	case t.To == workflow.PhaseSettled:
		s := c.state.Snapshot()
		if s.RunID != t.RunID {
			return
		}
		text = formatRunNotice(s)
	case t.From == workflow.PhaseForecastPending && t.To == workflow.PhaseIdle:
		s := c.state.Snapshot()
		if s.Error == "" {
			return
		}
		text = fmt.Sprintf("⚠️ *Forecast failed*\n`%s`", escapeMarkdownV2(s.Error))
	default:
		return
	}
	if err := c.sendMarkdownV2(text); err != nil {
		logger.Error("Failed to send run notice: %v", err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// formatRunNotice formats a settled run into a Telegram MarkdownV2 message.
func formatRunNotice(s workflow.Snapshot) string {
	message := "📊 *Forecast ready*\n\n"
	message += fmt.Sprintf("Model: %s\nTransform: %s\n",
		escapeMarkdownV2(string(s.Model)), escapeMarkdownV2(string(s.Transform)))
	message += fmt.Sprintf("Horizon: %d steps\n", s.Result.Horizon())

	if !s.Stages.DetailedExplanation {
		message += "\n_Detailed explanation unavailable_\n"
		return message
	}

	top := ranking.TopK(ranking.Rank(s.Attributions), noticeTopK)
	if len(top) == 0 {
		return message
	}
	message += "\n*Top contributors*\n"
	for i, a := range top {
		directionEmoji := "📈"
		if !ranking.IsPositive(a.Value) {
			directionEmoji = "📉"
		}
		valueStr := escapeMarkdownV2(fmt.Sprintf("%.4f", a.Value))
		message += fmt.Sprintf("%d\\. %s %s *%s*\n", i+1, directionEmoji, escapeMarkdownV2(a.Label), valueStr)
	}
	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
