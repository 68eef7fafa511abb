package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mgarced/vigilante/internal/vigilante"
)

var _ vigilante.Notifier = (*Notifier)(nil)

// Notifier delivers sync engine notifications through the bot API.
// Fire-and-forget from the engine's point of view: a send error is
// reported but never retried here.
type Notifier struct {
	api *tgbotapi.BotAPI
}

func NewNotifier(api *tgbotapi.BotAPI) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Send(_ context.Context, chatID int64, text string) error {
	if _, err := n.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("error sending message to chat %d: %w", chatID, err)
	}

	return nil
}
