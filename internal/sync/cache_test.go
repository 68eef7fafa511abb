package sync

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgarced/vigilante/internal/vigilante"
)

func TestCycleCache_FetchesOnce(t *testing.T) {
	fetcher := &fakeFetcher{snaps: map[string]vigilante.Snapshot{
		feedF: {Title: "Example Feed"},
	}}
	cache := newCycleCache(fetcher)

	for i := 0; i < 3; i++ {
		snap, err := cache.get(context.Background(), feedF)
		require.NoError(t, err)
		assert.Equal(t, "Example Feed", snap.Title)
	}

	assert.Equal(t, 1, fetcher.calls[feedF])
}

func TestCycleCache_CoalescesConcurrentFetches(t *testing.T) {
	release := make(chan struct{})
	fetcher := &slowFetcher{release: release}
	cache := newCycleCache(fetcher)

	const callers = 10

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := cache.get(context.Background(), feedF)
			assert.NoError(t, err)
			assert.Equal(t, "Example Feed", snap.Title)
		}()
	}

	close(release)
	wg.Wait()

	assert.Equal(t, 1, fetcher.count(), "concurrent callers must share one in-flight fetch")
}

func TestCycleCache_ErrorNotCached(t *testing.T) {
	fetcher := &fakeFetcher{errs: map[string]error{feedF: errors.New("boom")}}
	cache := newCycleCache(fetcher)

	_, err := cache.get(context.Background(), feedF)
	require.Error(t, err)

	// A later caller in the same cycle gets a fresh attempt
	delete(fetcher.errs, feedF)
	fetcher.snaps = map[string]vigilante.Snapshot{feedF: {Title: "Recovered"}}

	snap, err := cache.get(context.Background(), feedF)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", snap.Title)
}

// slowFetcher holds every Fetch until released, forcing callers to pile up.
type slowFetcher struct {
	release <-chan struct{}

	mu    sync.Mutex
	calls int
}

func (s *slowFetcher) Fetch(context.Context, string) (vigilante.Snapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	<-s.release
	return vigilante.Snapshot{Title: "Example Feed"}, nil
}

func (s *slowFetcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
