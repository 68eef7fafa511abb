package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	vigerrs "github.com/mgarced/vigilante/internal/errors"
	"github.com/mgarced/vigilante/internal/subs"
	feedsync "github.com/mgarced/vigilante/internal/sync"
	"github.com/mgarced/vigilante/internal/vigilante"
)

// Handlers holds the dependencies the admin endpoints act on.
type Handlers struct {
	Service subs.Service
	Engine  *feedsync.Engine
}

type subscriptionResponse struct {
	ID        string    `json:"id"`
	ChatID    int64     `json:"chat_id"`
	FeedURL   string    `json:"feed_url"`
	FeedTitle string    `json:"feed_title"`
	CreatedAt time.Time `json:"created_at"`
}

func toResponse(s vigilante.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        s.ID,
		ChatID:    s.ChatID,
		FeedURL:   s.FeedURL,
		FeedTitle: s.FeedTitle,
		CreatedAt: s.CreatedAt,
	}
}

func (h Handlers) listSubscriptions(w http.ResponseWriter, r *http.Request) error {
	rawChatID := r.URL.Query().Get("chat_id")
	chatID, err := strconv.ParseInt(rawChatID, 10, 64)
	if err != nil {
		return vigerrs.E(http.StatusBadRequest, "invalid chat_id", vigerrs.Detail{
			Field: "chat_id",
			Error: "must be an integer",
		})
	}

	list, err := h.Service.List(r.Context(), chatID)
	if err != nil {
		return vigerrs.E(err)
	}

	resp := struct {
		Subscriptions []subscriptionResponse `json:"subscriptions"`
	}{
		Subscriptions: make([]subscriptionResponse, 0, len(list)),
	}
	for _, s := range list {
		resp.Subscriptions = append(resp.Subscriptions, toResponse(s))
	}

	return WriteJSON(w, http.StatusOK, resp)
}

func (h Handlers) deleteSubscription(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]

	sub, err := h.Service.Unsubscribe(r.Context(), id)
	if errors.Is(err, vigilante.ErrNotFound) {
		return vigerrs.E(http.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return vigerrs.E(err)
	}

	return WriteJSON(w, http.StatusOK, toResponse(sub))
}

func (h Handlers) replaySubscription(w http.ResponseWriter, r *http.Request) error {
	id := mux.Vars(r)["id"]

	removed, err := h.Service.Replay(r.Context(), id)
	if errors.Is(err, vigilante.ErrNotFound) {
		return vigerrs.E(http.StatusNotFound, "subscription not found")
	}
	if err != nil {
		return vigerrs.E(err)
	}

	return WriteJSON(w, http.StatusOK, struct {
		Removed int64 `json:"removed"`
	}{Removed: removed})
}

// triggerSync kicks off an off-schedule cycle. The cycle keeps running
// after the request returns; its outcome lands in the logs.
func (h Handlers) triggerSync(w http.ResponseWriter, r *http.Request) error {
	if h.Engine.Running() {
		return vigerrs.E(http.StatusConflict, "a sync cycle is already running")
	}

	go func() {
		err := h.Engine.RunCycle(context.WithoutCancel(r.Context()))
		if errors.Is(err, feedsync.ErrCycleRunning) {
			slog.Warn("triggered cycle lost the race to an already running one")
			return
		}
		if err != nil {
			slog.Error("triggered sync cycle finished with errors", "error", err)
		}
	}()

	return WriteJSON(w, http.StatusAccepted, struct {
		Status string `json:"status"`
	}{Status: "started"})
}
