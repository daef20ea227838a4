package telegram

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"product-image-pipeline/internal/domain/ports/adapter"
)

var (
	_ adapter.Notifier = (*BotNotifier)(nil)
	_ adapter.Notifier = (*LogNotifier)(nil)
)

// sender is the part of *tgbotapi.BotAPI the notifier needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotNotifier posts plain messages to one operator chat.
type BotNotifier struct {
	bot    sender
	chatID int64
}

// NewBotNotifier validates the token against the Bot API.
func NewBotNotifier(token string, chatID int64) (*BotNotifier, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	if chatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &BotNotifier{bot: bot, chatID: chatID}, nil
}

func (n *BotNotifier) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}

// LogNotifier writes notifications to the log when no bot is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, text string) error {
	n.log.Info().Str("component", "notifier").Msg(text)
	return nil
}
