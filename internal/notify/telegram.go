package notify

import (
	"context"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/squeezewatch/squeezewatch/internal/alerts"
)

// Telegram sends alerts as bot messages to one chat.
type Telegram struct {
	name   string
	chatID int64
	bot    *tgbotapi.BotAPI
}

// NewTelegram creates a telegram channel. The bot is assembled without the
// getMe round-trip that tgbotapi.NewBotAPI performs, so construction never
// touches the network. endpoint overrides the Bot API URL format when set.
func NewTelegram(name, token string, chatID int64, client *http.Client, endpoint string) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	bot := &tgbotapi.BotAPI{Token: token, Client: client, Buffer: 100}
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot.SetAPIEndpoint(endpoint)
	return &Telegram{name: name, chatID: chatID, bot: bot}
}

// Name implements Channel.
func (t *Telegram) Name() string { return t.name }

// Send implements Channel. The Bot API client has no context support; the
// dispatcher's timeout bounds the call.
func (t *Telegram) Send(ctx context.Context, a alerts.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("%s %s", severityLabel(a.Severity), a.Message()))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
