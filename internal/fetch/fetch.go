// Package fetch turns a feed URL into a cycle-scoped snapshot: the feed's
// title plus its items in feed order.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/mgarced/vigilante/internal/vigilante"
)

// A feed that never answers must not stall the whole cycle.
const fetchTimeout = 30 * time.Second

var _ vigilante.Fetcher = (*Fetcher)(nil)

type Fetcher struct {
	parser *gofeed.Parser
}

func New() *Fetcher {
	p := gofeed.NewParser()
	p.Client = &http.Client{
		Timeout: fetchTimeout,
	}

	return &Fetcher{parser: p}
}

// Fetch downloads and parses the feed. Items without a link are dropped:
// the link is the dedup key and nothing can be deduplicated without one.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (vigilante.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return vigilante.Snapshot{}, fmt.Errorf("error fetching feed: %w", err)
	}

	items := make([]vigilante.Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.Link == "" {
			continue
		}
		items = append(items, vigilante.Item{
			Title: sanitize(item.Title),
			Link:  item.Link,
		})
	}

	return vigilante.Snapshot{
		Title: sanitize(feed.Title),
		Items: items,
	}, nil
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string, usually a title.
//
// Also limits the length of the string so there's not a massive chunk of text being sent to a chat.
// The cut backs up to a rune boundary so a multi-byte character is never split.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	if len(s) > 2048 {
		cut := 2048
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}

	return s
}
