// Package telegram is the conversational surface of the watcher: the
// subscribe/list/unsubscribe dialogue and the notifier the sync engine
// delivers through.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mgarced/vigilante/internal/subs"
	"github.com/mgarced/vigilante/internal/vigilante"
)

const welcomeMessage = "¡Bienvenido al Bot Vigilante de RSS!\n\n" +
	"Usa /agregar <feed_url> para agregar un nuevo feed RSS.\n" +
	"Usa /listar para ver tus suscripciones actuales.\n" +
	"Usa /eliminar para darte de baja de un feed."

// How many of a feed's pending items the "show latest" flow replies with.
const latestCount = 5

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Bot handles incoming updates: commands, bare feed urls, and the inline
// keyboard callbacks.
type Bot struct {
	api     *tgbotapi.BotAPI
	service subs.Service
}

func NewBot(api *tgbotapi.BotAPI, service subs.Service) *Bot {
	return &Bot{
		api:     api,
		service: service,
	}
}

// Run consumes updates until the context is canceled.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	slog.Info("bot started", "username", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			slog.Info("bot stopped")
			return nil
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.reply(msg.Chat.ID, welcomeMessage)
	case "agregar":
		feedURL := strings.TrimSpace(msg.CommandArguments())
		if feedURL == "" {
			b.reply(msg.Chat.ID, "Por favor, proporciona una URL de feed RSS.")
			return
		}
		b.subscribe(ctx, msg.Chat.ID, feedURL)
	case "listar":
		b.listSubscriptions(ctx, msg.Chat.ID)
	case "eliminar":
		b.reply(msg.Chat.ID, "Por favor, usa el comando /listar para ver tus suscripciones y darte de baja.")
	default:
		b.reply(msg.Chat.ID, welcomeMessage)
	}
}

// A bare message containing a url is treated as a subscribe request.
func (b *Bot) handleText(ctx context.Context, msg *tgbotapi.Message) {
	feedURL := urlPattern.FindString(msg.Text)
	if feedURL == "" {
		b.reply(msg.Chat.ID, welcomeMessage)
		return
	}

	b.subscribe(ctx, msg.Chat.ID, feedURL)
}

func (b *Bot) subscribe(ctx context.Context, chatID int64, feedURL string) {
	sub, _, err := b.service.Subscribe(ctx, chatID, feedURL)
	if errors.Is(err, vigilante.ErrConflict) {
		b.reply(chatID, "Ya estás suscrito a este feed.")
		return
	}
	if err != nil {
		slog.Warn("error subscribing", "chat_id", chatID, "feed_url", feedURL, "error", err)
		b.reply(chatID, "No se pudo obtener o analizar el feed RSS. Por favor, comprueba la URL.")
		return
	}

	b.reply(chatID, fmt.Sprintf("Suscrito exitosamente a %s", sub.FeedTitle))

	unseen, err := b.service.Unseen(ctx, sub)
	if err != nil {
		slog.Warn("error listing unseen items", "feed_url", feedURL, "error", err)
		return
	}
	if len(unseen) == 0 {
		return
	}

	prompt := tgbotapi.NewMessage(chatID, "¿Quieres ver las últimas 5 publicaciones?")
	prompt.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Sí", "show_last_5:"+sub.ID),
			tgbotapi.NewInlineKeyboardButtonData("No", "skip_last_5:"+sub.ID),
		),
	)
	if _, err := b.api.Send(prompt); err != nil {
		slog.Warn("error sending prompt", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) listSubscriptions(ctx context.Context, chatID int64) {
	list, err := b.service.List(ctx, chatID)
	if err != nil {
		slog.Error("error listing subscriptions", "chat_id", chatID, "error", err)
		b.reply(chatID, "Ocurrió un error al obtener tus suscripciones.")
		return
	}
	if len(list) == 0 {
		b.reply(chatID, "No estás suscrito a ningún feed.")
		return
	}

	b.reply(chatID, "Tus suscripciones:")
	for _, sub := range list {
		msg := tgbotapi.NewMessage(chatID, sub.FeedTitle)
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Borrar", "unsubscribe:"+sub.ID),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			slog.Warn("error sending subscription entry", "chat_id", chatID, "error", err)
		}
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	action, id, ok := strings.Cut(cq.Data, ":")
	if !ok {
		b.answer(cq.ID, "")
		return
	}

	switch action {
	case "unsubscribe":
		b.unsubscribe(ctx, cq, id)
	case "show_last_5":
		b.showLatest(ctx, cq, id)
	case "skip_last_5":
		b.skipLatest(ctx, cq, id)
	default:
		b.answer(cq.ID, "")
	}
}

func (b *Bot) unsubscribe(ctx context.Context, cq *tgbotapi.CallbackQuery, id string) {
	sub, err := b.service.Unsubscribe(ctx, id)
	if errors.Is(err, vigilante.ErrNotFound) {
		b.answer(cq.ID, "La suscripción ya ha sido eliminada.")
		return
	}
	if err != nil {
		slog.Error("error unsubscribing", "subscription_id", id, "error", err)
		b.answer(cq.ID, "Ocurrió un error al darte de baja.")
		return
	}

	edit := tgbotapi.NewEditMessageText(
		cq.Message.Chat.ID,
		cq.Message.MessageID,
		fmt.Sprintf("Suscripción a %q eliminada.", sub.FeedTitle),
	)
	if _, err := b.api.Send(edit); err != nil {
		slog.Warn("error editing message", "error", err)
	}
	b.answer(cq.ID, "")
}

// showLatest replies with up to 5 pending items, then records the feed's
// whole pending history as delivered so the next cycle stays quiet.
func (b *Bot) showLatest(ctx context.Context, cq *tgbotapi.CallbackQuery, id string) {
	sub, err := b.service.Subscription(ctx, id)
	if errors.Is(err, vigilante.ErrNotFound) {
		b.answer(cq.ID, "Suscripción no encontrada.")
		return
	}
	if err != nil {
		slog.Error("error fetching subscription", "subscription_id", id, "error", err)
		b.answer(cq.ID, "Ocurrió un error.")
		return
	}

	unseen, err := b.service.Unseen(ctx, sub)
	if err != nil {
		slog.Warn("error listing unseen items", "feed_url", sub.FeedURL, "error", err)
		b.answer(cq.ID, "Ocurrió un error.")
		return
	}

	for i, item := range unseen {
		if i == latestCount {
			break
		}
		b.reply(sub.ChatID, fmt.Sprintf("%s\n%s", html.UnescapeString(item.Title), item.Link))
	}

	if err := b.service.MarkAllDelivered(ctx, sub.ChatID, sub.FeedURL, unseen); err != nil {
		slog.Error("error marking history delivered", "feed_url", sub.FeedURL, "error", err)
	}
	b.answer(cq.ID, "Aquí tienes las últimas 5 publicaciones.")
}

// skipLatest records the feed's pending history as delivered without
// showing anything.
func (b *Bot) skipLatest(ctx context.Context, cq *tgbotapi.CallbackQuery, id string) {
	sub, err := b.service.Subscription(ctx, id)
	if errors.Is(err, vigilante.ErrNotFound) {
		b.answer(cq.ID, "Suscripción no encontrada.")
		return
	}
	if err != nil {
		slog.Error("error fetching subscription", "subscription_id", id, "error", err)
		b.answer(cq.ID, "Ocurrió un error.")
		return
	}

	unseen, err := b.service.Unseen(ctx, sub)
	if err != nil {
		slog.Warn("error listing unseen items", "feed_url", sub.FeedURL, "error", err)
		b.answer(cq.ID, "Ocurrió un error.")
		return
	}

	if err := b.service.MarkAllDelivered(ctx, sub.ChatID, sub.FeedURL, unseen); err != nil {
		slog.Error("error marking history delivered", "feed_url", sub.FeedURL, "error", err)
		b.answer(cq.ID, "Ocurrió un error.")
		return
	}
	b.answer(cq.ID, "Se han registrado todas las publicaciones como enviadas.")
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		slog.Warn("error sending reply", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		slog.Warn("error answering callback", "error", err)
	}
}
