// Package subs implements the subscription flows: subscribing a chat to a
// feed, listing, unsubscribing, and the history bookkeeping around a new
// subscription.
package subs

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/mgarced/vigilante/internal/vigilante"
)

// ErrInvalidURL rejects a feed address before any record is created.
var ErrInvalidURL = errors.New("invalid feed url")

type Service struct {
	store   vigilante.SubscriptionStore
	ledger  vigilante.DeliveryLedger
	fetcher vigilante.Fetcher
}

func New(store vigilante.SubscriptionStore, ledger vigilante.DeliveryLedger, fetcher vigilante.Fetcher) Service {
	return Service{
		store:   store,
		ledger:  ledger,
		fetcher: fetcher,
	}
}

// Subscribe binds the chat to the feed. The feed is fetched first: that
// both validates the address and yields the title to store. The snapshot
// comes back so the caller can offer the latest items right away.
//
// A pair that already exists returns [vigilante.ErrConflict]; a feed url
// that is empty or not http(s) returns [ErrInvalidURL] without touching
// the store.
func (s Service) Subscribe(ctx context.Context, chatID int64, feedURL string) (vigilante.Subscription, vigilante.Snapshot, error) {
	if err := validateURL(feedURL); err != nil {
		return vigilante.Subscription{}, vigilante.Snapshot{}, err
	}

	subscribed, err := s.store.IsSubscribed(ctx, chatID, feedURL)
	if err != nil {
		return vigilante.Subscription{}, vigilante.Snapshot{}, fmt.Errorf("error checking subscription: %w", err)
	}
	if subscribed {
		return vigilante.Subscription{}, vigilante.Snapshot{}, vigilante.ErrConflict
	}

	snap, err := s.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return vigilante.Subscription{}, vigilante.Snapshot{}, fmt.Errorf("error fetching feed: %w", err)
	}

	sub, err := s.store.InsertSubscription(ctx, chatID, feedURL, snap.Title)
	if err != nil {
		// Insertion races with a concurrent subscribe; the conflict
		// sentinel passes through untouched.
		return vigilante.Subscription{}, vigilante.Snapshot{}, err
	}

	return sub, snap, nil
}

// Unsubscribe removes the subscription and returns what was removed so
// the caller can name it.
func (s Service) Unsubscribe(ctx context.Context, id string) (vigilante.Subscription, error) {
	sub, err := s.store.Subscription(ctx, id)
	if err != nil {
		return vigilante.Subscription{}, err
	}
	if err := s.store.DeleteSubscription(ctx, id); err != nil {
		return vigilante.Subscription{}, err
	}

	return sub, nil
}

func (s Service) List(ctx context.Context, chatID int64) ([]vigilante.Subscription, error) {
	return s.store.ChatSubscriptions(ctx, chatID)
}

func (s Service) Subscription(ctx context.Context, id string) (vigilante.Subscription, error) {
	return s.store.Subscription(ctx, id)
}

// Unseen re-fetches the subscription's feed and returns the items the
// chat has not been notified about yet, in feed order.
func (s Service) Unseen(ctx context.Context, sub vigilante.Subscription) ([]vigilante.Item, error) {
	snap, err := s.fetcher.Fetch(ctx, sub.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("error fetching feed: %w", err)
	}

	// A feed that had no title when the subscription was created gets it
	// backfilled from the first fetch that carries one.
	if sub.FeedTitle == "" && snap.Title != "" {
		if err := s.store.UpdateSubscriptionTitle(ctx, sub.ID, snap.Title); err != nil {
			return nil, fmt.Errorf("error backfilling feed title: %w", err)
		}
	}

	delivered, err := s.ledger.Delivered(ctx, sub.FeedURL, sub.ChatID)
	if err != nil {
		return nil, fmt.Errorf("error loading delivered set: %w", err)
	}

	var unseen []vigilante.Item
	for _, item := range snap.Items {
		if _, ok := delivered[item.Link]; !ok {
			unseen = append(unseen, item)
		}
	}

	return unseen, nil
}

// MarkAllDelivered records the items as already seen for the chat, so
// the next cycle does not notify about the feed's existing history.
func (s Service) MarkAllDelivered(ctx context.Context, chatID int64, feedURL string, items []vigilante.Item) error {
	for _, item := range items {
		if err := s.ledger.MarkDelivered(ctx, feedURL, item.Link, chatID); err != nil {
			return fmt.Errorf("error marking item %s delivered: %w", item.Link, err)
		}
	}

	return nil
}

// Replay wipes the chat's delivery history for the subscription's feed;
// the next cycle re-treats everything currently in the feed as new.
func (s Service) Replay(ctx context.Context, id string) (int64, error) {
	sub, err := s.store.Subscription(ctx, id)
	if err != nil {
		return 0, err
	}

	return s.ledger.ClearDelivered(ctx, sub.FeedURL, sub.ChatID)
}

func validateURL(feedURL string) error {
	if feedURL == "" {
		return ErrInvalidURL
	}
	u, err := url.Parse(feedURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}

	return nil
}
