package sqlite

import (
	"context"
	"fmt"
)

func (r Repo) WasDelivered(ctx context.Context, feedURL, link string, chatID int64) (bool, error) {
	const q = `SELECT COUNT(*) FROM sent_items WHERE feed_url = ? AND item_link = ? AND chat_id = ?;`

	var count int
	if err := r.db.GetContext(ctx, &count, q, feedURL, link, chatID); err != nil {
		return false, fmt.Errorf("error counting sent items: %s", err)
	}

	return count > 0, nil
}

// MarkDelivered records the triple. Recording it twice is a silent no-op,
// which is what makes the sync engine safe to re-run after a partial
// failure.
func (r Repo) MarkDelivered(ctx context.Context, feedURL, link string, chatID int64) error {
	const q = `INSERT INTO sent_items (feed_url, item_link, chat_id)
	VALUES (?, ?, ?)
	ON CONFLICT (feed_url, item_link, chat_id) DO NOTHING;`

	if _, err := r.db.ExecContext(ctx, q, feedURL, link, chatID); err != nil {
		return fmt.Errorf("error inserting sent item: %s", err)
	}

	return nil
}

// Delivered returns the full delivered set for one (feed, chat) so a
// fetched item list can be filtered in a single call instead of one
// lookup per item.
func (r Repo) Delivered(ctx context.Context, feedURL string, chatID int64) (map[string]struct{}, error) {
	const q = `SELECT item_link FROM sent_items WHERE feed_url = ? AND chat_id = ?;`

	var links []string
	if err := r.db.SelectContext(ctx, &links, q, feedURL, chatID); err != nil {
		return nil, fmt.Errorf("error selecting sent items: %s", err)
	}

	set := make(map[string]struct{}, len(links))
	for _, link := range links {
		set[link] = struct{}{}
	}

	return set, nil
}

// ClearDelivered wipes a (feed, chat) ledger so the next cycle re-treats
// everything in the feed as new.
func (r Repo) ClearDelivered(ctx context.Context, feedURL string, chatID int64) (int64, error) {
	const q = `DELETE FROM sent_items WHERE feed_url = ? AND chat_id = ?;`

	res, err := r.db.ExecContext(ctx, q, feedURL, chatID)
	if err != nil {
		return 0, fmt.Errorf("error deleting sent items: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error reading rows affected: %s", err)
	}

	return n, nil
}
