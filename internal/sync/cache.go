package sync

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mgarced/vigilante/internal/vigilante"
)

// cycleCache holds the feed snapshots for a single cycle, keyed by feed
// url. Write-once-read-many: N chats subscribed to the same feed share
// one fetch. A fresh cache is built per cycle and discarded with it.
type cycleCache struct {
	fetcher vigilante.Fetcher

	group singleflight.Group
	mu    sync.Mutex
	snaps map[string]vigilante.Snapshot
}

func newCycleCache(fetcher vigilante.Fetcher) *cycleCache {
	return &cycleCache{
		fetcher: fetcher,
		snaps:   make(map[string]vigilante.Snapshot),
	}
}

// get returns the cycle's snapshot for the url, fetching it on first use.
// Concurrent callers for the same url coalesce onto a single in-flight
// fetch; a plain check-then-fetch would still double-fetch under the
// engine's fan-out. Fetch errors are not cached, but within one cycle a
// url only gets one attempt anyway.
func (c *cycleCache) get(ctx context.Context, feedURL string) (vigilante.Snapshot, error) {
	c.mu.Lock()
	if snap, ok := c.snaps[feedURL]; ok {
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(feedURL, func() (any, error) {
		snap, err := c.fetcher.Fetch(ctx, feedURL)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.snaps[feedURL] = snap
		c.mu.Unlock()

		return snap, nil
	})
	if err != nil {
		return vigilante.Snapshot{}, err
	}

	return v.(vigilante.Snapshot), nil
}
