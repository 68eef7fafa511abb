package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"modernc.org/sqlite"

	"github.com/mgarced/vigilante/internal/vigilante"
)

const subscriptionNamespace = "-sub"

// sqlite extended error code for a UNIQUE constraint violation.
const codeConstraintUnique = 2067

// InsertSubscription persists a new (chat, feed) binding. A duplicate pair
// comes back as [vigilante.ErrConflict], never as a bare driver error.
func (r Repo) InsertSubscription(ctx context.Context, chatID int64, feedURL, title string) (vigilante.Subscription, error) {
	const q = `INSERT INTO subscriptions (id, chat_id, feed_url, feed_title)
	VALUES (:id, :chat_id, :feed_url, :feed_title);`

	s := vigilante.Subscription{
		ID:        uuid.NewString() + subscriptionNamespace,
		ChatID:    chatID,
		FeedURL:   feedURL,
		FeedTitle: title,
	}
	_, err := r.db.NamedExecContext(ctx, q, s)
	if sqliteErr := (&sqlite.Error{}); errors.As(err, &sqliteErr) && sqliteErr.Code() == codeConstraintUnique {
		return vigilante.Subscription{}, fmt.Errorf("subscription already exists: %w", vigilante.ErrConflict)
	}
	if err != nil {
		return vigilante.Subscription{}, fmt.Errorf("error inserting subscription: %s", err)
	}

	return r.Subscription(ctx, s.ID)
}

func (r Repo) DeleteSubscription(ctx context.Context, id string) error {
	const q = `DELETE FROM subscriptions WHERE id = ?;`

	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("error deleting subscription: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading rows affected: %s", err)
	}
	if n == 0 {
		return vigilante.ErrNotFound
	}

	return nil
}

func (r Repo) Subscription(ctx context.Context, id string) (vigilante.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE id = ?;`

	var s vigilante.Subscription
	err := r.db.GetContext(ctx, &s, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return vigilante.Subscription{}, vigilante.ErrNotFound
	}
	if err != nil {
		return vigilante.Subscription{}, fmt.Errorf("error fetching subscription: %s", err)
	}

	return s, nil
}

// ChatSubscriptions returns a chat's subscriptions in insertion order.
func (r Repo) ChatSubscriptions(ctx context.Context, chatID int64) ([]vigilante.Subscription, error) {
	const q = `SELECT * FROM subscriptions WHERE chat_id = ? ORDER BY rowid;`

	var subs []vigilante.Subscription
	if err := r.db.SelectContext(ctx, &subs, q, chatID); err != nil {
		return nil, fmt.Errorf("error selecting chat subscriptions: %s", err)
	}

	return subs, nil
}

// FeedURLs returns every distinct feed url with at least one subscriber.
func (r Repo) FeedURLs(ctx context.Context) ([]string, error) {
	const q = `SELECT DISTINCT feed_url FROM subscriptions;`

	var urls []string
	if err := r.db.SelectContext(ctx, &urls, q); err != nil {
		return nil, fmt.Errorf("error selecting feed urls: %s", err)
	}

	return urls, nil
}

// SubscriptionPairs returns the full (feed url, chat) listing that a sync
// cycle is planned from.
func (r Repo) SubscriptionPairs(ctx context.Context) ([]vigilante.Pair, error) {
	const q = `SELECT feed_url, chat_id FROM subscriptions;`

	var pairs []vigilante.Pair
	if err := r.db.SelectContext(ctx, &pairs, q); err != nil {
		return nil, fmt.Errorf("error selecting subscription pairs: %s", err)
	}

	return pairs, nil
}

func (r Repo) IsSubscribed(ctx context.Context, chatID int64, feedURL string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("subscriptions").
		Where(sq.Eq{"chat_id": chatID, "feed_url": feedURL}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("error constructing sql: %s", err)
	}

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		return false, fmt.Errorf("error counting subscriptions: %s", err)
	}

	return count > 0, nil
}

// UpdateSubscriptionTitle backfills the feed title after the first
// successful fetch. The only mutation a subscription ever sees.
func (r Repo) UpdateSubscriptionTitle(ctx context.Context, id, title string) error {
	query, args, err := sq.Update("subscriptions").
		Set("feed_title", title).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error updating subscription title: %s", err)
	}

	return nil
}
