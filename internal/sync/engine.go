// Package sync implements the feed synchronization engine: planning which
// feeds are due, fetching each one once per cycle, and delivering unseen
// items to every subscribed chat exactly once.
package sync

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mgarced/vigilante/internal/vigilante"
	"github.com/mgarced/vigilante/logger"
)

// ErrCycleRunning is returned when a cycle is requested while the
// previous one has not finished.
var ErrCycleRunning = errors.New("a sync cycle is already running")

// How many feed groups are checked in parallel within one cycle.
const maxConcurrentFeeds = 8

// PairLister is the slice of the subscription store a cycle plans from.
type PairLister interface {
	SubscriptionPairs(ctx context.Context) ([]vigilante.Pair, error)
}

// Engine runs sync cycles. It holds no state between cycles: the feed
// snapshot cache is constructed per cycle and discarded with it.
type Engine struct {
	subs     PairLister
	ledger   vigilante.DeliveryLedger
	fetcher  vigilante.Fetcher
	notifier vigilante.Notifier

	running atomic.Bool
}

func NewEngine(subs PairLister, ledger vigilante.DeliveryLedger, fetcher vigilante.Fetcher, notifier vigilante.Notifier) *Engine {
	return &Engine{
		subs:     subs,
		ledger:   ledger,
		fetcher:  fetcher,
		notifier: notifier,
	}
}

// Running reports whether a cycle is currently in flight.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// planCycle groups the flat subscription pairs by feed url so that each
// url is fetched at most once per cycle. Rebuilt from scratch every
// cycle: subscriptions change between cycles.
func planCycle(pairs []vigilante.Pair) map[string][]int64 {
	plan := make(map[string][]int64)
	for _, p := range pairs {
		plan[p.FeedURL] = append(plan[p.FeedURL], p.ChatID)
	}

	return plan
}

// RunCycle executes one full check of every subscribed feed. Only one
// cycle may run at a time; a second caller gets [ErrCycleRunning] instead
// of overlapping work.
//
// A feed whose fetch fails is skipped for this cycle and picked up again
// on the next one. Store and ledger failures surface in the returned
// error but never stop the remaining groups.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrCycleRunning
	}
	defer e.running.Store(false)

	pairs, err := e.subs.SubscriptionPairs(ctx)
	if err != nil {
		return fmt.Errorf("error listing subscription pairs: %w", err)
	}

	plan := planCycle(pairs)
	slog.Info("starting sync cycle", "feeds", len(plan), "subscriptions", len(pairs))

	cache := newCycleCache(e.fetcher)

	var (
		mu        sync.Mutex
		cycleErrs []error
	)
	g := &errgroup.Group{}
	g.SetLimit(maxConcurrentFeeds)
	for feedURL, chats := range plan {
		feedURL, chats := feedURL, chats
		g.Go(func() error {
			feedCtx := logger.Ctx(ctx, slog.String("feed_url", feedURL))

			if err := e.checkFeed(feedCtx, cache, feedURL, chats); err != nil {
				mu.Lock()
				cycleErrs = append(cycleErrs, err)
				mu.Unlock()
			}

			// Never propagate: one group's failure must not cancel the rest.
			return nil
		})
	}
	g.Wait()

	return errors.Join(cycleErrs...)
}

// checkFeed fetches one feed (through the cycle cache) and evaluates
// every subscribed chat's ledger against the result.
func (e *Engine) checkFeed(ctx context.Context, cache *cycleCache, feedURL string, chats []int64) error {
	snap, err := cache.get(ctx, feedURL)
	if err != nil {
		// Skipped this cycle, retried naturally on the next one.
		slog.WarnContext(ctx, "error checking feed, skipping", "error", err)
		return nil
	}

	var chatErrs []error
	for _, chatID := range chats {
		if err := e.deliverNew(ctx, feedURL, snap, chatID); err != nil {
			chatErrs = append(chatErrs, fmt.Errorf("feed %s, chat %d: %w", feedURL, chatID, err))
		}
	}

	return errors.Join(chatErrs...)
}

// deliverNew sends every item the chat has not seen yet, in fetch order,
// and marks each one delivered immediately after its dispatch attempt.
//
// The ledger write deliberately ignores the dispatch outcome: a chat that
// cannot be reached loses the notification instead of being retried on
// every future cycle.
func (e *Engine) deliverNew(ctx context.Context, feedURL string, snap vigilante.Snapshot, chatID int64) error {
	delivered, err := e.ledger.Delivered(ctx, feedURL, chatID)
	if err != nil {
		return fmt.Errorf("error loading delivered set: %w", err)
	}

	for _, item := range snap.Items {
		if _, ok := delivered[item.Link]; ok {
			continue
		}

		if err := e.notifier.Send(ctx, chatID, Message(snap.Title, item)); err != nil {
			slog.WarnContext(ctx, "error sending notification", "chat_id", chatID, "item", item.Link, "error", err)
		}
		if err := e.ledger.MarkDelivered(ctx, feedURL, item.Link, chatID); err != nil {
			return fmt.Errorf("error marking item %s delivered: %w", item.Link, err)
		}
	}

	return nil
}

// Message composes the notification text for one item, decoding any
// entity-escaped markup in the titles.
func Message(feedTitle string, item vigilante.Item) string {
	return fmt.Sprintf("Nuevo contenido en el feed: %s\n\n%s\n%s",
		html.UnescapeString(feedTitle),
		html.UnescapeString(item.Title),
		item.Link,
	)
}
