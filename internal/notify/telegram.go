package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	tperrors "github.com/taployalty/tapagent/internal/errors"
)

// TelegramNotifier posts run results to a single operator chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramNotifier(botToken string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, tperrors.Wrap(err, "failed to init telegram bot")
	}
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Send(ctx context.Context, n Notification) error {
	text := fmt.Sprintf("%s (%s)\n%s", n.Title, n.AgentName, n.Body)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return tperrors.Wrap(err, "failed to send telegram message")
	}
	slog.Debug("Telegram notification sent", "chat_id", t.chatID, "agent_id", n.AgentID)
	return nil
}

func (t *TelegramNotifier) Health(ctx context.Context) error {
	if t.bot == nil {
		return tperrors.Transient("Telegram bot not initialized")
	}
	if _, err := t.bot.GetMe(); err != nil {
		return tperrors.Transient("Telegram connection failed")
	}
	return nil
}
