// Package vigilante holds the domain types shared between the bot, the
// sync engine, and the persistence layer.
package vigilante

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict = errors.New("resource already exists")
	ErrNotFound = errors.New("resource not found")
)

type (
	// Subscription binds one chat to one feed URL.
	Subscription struct {
		ID        string    `db:"id"`
		ChatID    int64     `db:"chat_id"`
		FeedURL   string    `db:"feed_url"`
		FeedTitle string    `db:"feed_title"`
		CreatedAt time.Time `db:"created_at"`
	}

	// Pair is the planner's input: one (feed URL, chat) combination
	// that is due for checking.
	Pair struct {
		FeedURL string `db:"feed_url"`
		ChatID  int64  `db:"chat_id"`
	}

	// Item is a single entry inside a fetched feed. The link doubles as
	// the dedup key within its feed.
	Item struct {
		Title string
		Link  string
	}

	// Snapshot is the result of fetching a feed once: its title plus the
	// items in feed order. It lives for at most one sync cycle.
	Snapshot struct {
		Title string
		Items []Item
	}

	// SubscriptionStore is the durable mapping of (chat, feed URL) to
	// subscription records.
	SubscriptionStore interface {
		InsertSubscription(ctx context.Context, chatID int64, feedURL, title string) (Subscription, error)
		DeleteSubscription(ctx context.Context, id string) error
		Subscription(ctx context.Context, id string) (Subscription, error)
		ChatSubscriptions(ctx context.Context, chatID int64) ([]Subscription, error)
		FeedURLs(ctx context.Context) ([]string, error)
		SubscriptionPairs(ctx context.Context) ([]Pair, error)
		IsSubscribed(ctx context.Context, chatID int64, feedURL string) (bool, error)
		UpdateSubscriptionTitle(ctx context.Context, id, title string) error
	}

	// DeliveryLedger records which (feed URL, item link, chat) triples
	// have already been notified. Marking a triple twice is a no-op.
	DeliveryLedger interface {
		WasDelivered(ctx context.Context, feedURL, link string, chatID int64) (bool, error)
		MarkDelivered(ctx context.Context, feedURL, link string, chatID int64) error
		Delivered(ctx context.Context, feedURL string, chatID int64) (map[string]struct{}, error)
		ClearDelivered(ctx context.Context, feedURL string, chatID int64) (int64, error)
	}

	// Fetcher turns a feed URL into a snapshot, or fails. Every failure
	// mode is treated the same by callers: log and skip.
	Fetcher interface {
		Fetch(ctx context.Context, feedURL string) (Snapshot, error)
	}

	// Notifier delivers one message to one chat. Send errors never roll
	// back ledger writes.
	Notifier interface {
		Send(ctx context.Context, chatID int64, text string) error
	}
)
