package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mgarced/vigilante/internal/migrations"
	"github.com/mgarced/vigilante/internal/server"
	"github.com/mgarced/vigilante/internal/sqlite"
	"github.com/mgarced/vigilante/internal/subs"
	feedsync "github.com/mgarced/vigilante/internal/sync"
	"github.com/mgarced/vigilante/internal/vigilante"
)

const feedURL = "https://example.com/rss.xml"

type stubFetcher struct {
	snap vigilante.Snapshot
}

func (s stubFetcher) Fetch(context.Context, string) (vigilante.Snapshot, error) {
	return s.snap, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent int
}

func (r *recordingNotifier) Send(context.Context, int64, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

type fixture struct {
	srv      *httptest.Server
	repo     sqlite.Repo
	notifier *recordingNotifier
}

func newFixture(t *testing.T, snap vigilante.Snapshot) fixture {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", sqlite.DSN(filepath.Join(t.TempDir(), "test.sqlite")))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, migrations.Run(dbx))

	var (
		repo     = sqlite.New(dbx)
		fetcher  = stubFetcher{snap: snap}
		notifier = &recordingNotifier{}
		service  = subs.New(repo, repo, fetcher)
		engine   = feedsync.NewEngine(repo, repo, fetcher, notifier)
	)

	srv := httptest.NewServer(server.New(0, server.Handlers{Service: service, Engine: engine}).Handler)
	t.Cleanup(srv.Close)

	return fixture{srv: srv, repo: repo, notifier: notifier}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{})

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListSubscriptions(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{})

	_, err := f.repo.InsertSubscription(context.Background(), 123, feedURL, "Example Feed")
	require.NoError(t, err)
	_, err = f.repo.InsertSubscription(context.Background(), 456, "https://example.com/rss2.xml", "Other Feed")
	require.NoError(t, err)

	resp, err := http.Get(f.srv.URL + "/v1/subscriptions?chat_id=123")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Subscriptions []struct {
			ID        string `json:"id"`
			ChatID    int64  `json:"chat_id"`
			FeedURL   string `json:"feed_url"`
			FeedTitle string `json:"feed_title"`
		} `json:"subscriptions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Subscriptions, 1)
	assert.Equal(t, feedURL, body.Subscriptions[0].FeedURL)
	assert.Equal(t, "Example Feed", body.Subscriptions[0].FeedTitle)
}

func TestListSubscriptions_BadChatID(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{})

	resp, err := http.Get(f.srv.URL + "/v1/subscriptions?chat_id=nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid chat_id", body.Message)
	assert.Equal(t, http.StatusBadRequest, body.Status)
}

func TestDeleteSubscription(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{})

	sub, err := f.repo.InsertSubscription(context.Background(), 123, feedURL, "Example Feed")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, f.srv.URL+"/v1/subscriptions/"+sub.ID, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Deleting again is a 404
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestReplaySubscription(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{})

	sub, err := f.repo.InsertSubscription(context.Background(), 123, feedURL, "Example Feed")
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkDelivered(context.Background(), feedURL, "https://example.com/item1", 123))
	require.NoError(t, f.repo.MarkDelivered(context.Background(), feedURL, "https://example.com/item2", 123))

	resp, err := http.Post(f.srv.URL+"/v1/subscriptions/"+sub.ID+"/replay", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Removed int64 `json:"removed"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.EqualValues(t, 2, body.Removed)
}

func TestTriggerSync(t *testing.T) {
	f := newFixture(t, vigilante.Snapshot{
		Title: "Example Feed",
		Items: []vigilante.Item{{Title: "Item 1", Link: "https://example.com/item1"}},
	})

	_, err := f.repo.InsertSubscription(context.Background(), 123, feedURL, "Example Feed")
	require.NoError(t, err)

	resp, err := http.Post(f.srv.URL+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The cycle runs in the background
	require.Eventually(t, func() bool {
		return f.notifier.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
