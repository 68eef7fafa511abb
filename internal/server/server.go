// Package server is the small operational HTTP API: inspect
// subscriptions, trigger an off-schedule sync cycle, replay a feed's
// history for a chat.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	vigerrs "github.com/mgarced/vigilante/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	sErr := &vigerrs.Error{}
	if !errors.As(err, &sErr) {
		slog.Error("unstructured handler error", "error", err)
		sErr = vigerrs.E(http.StatusInternalServerError, "internal server error")
	}

	if err := WriteJSON(w, sErr.Status, sErr); err != nil {
		slog.Error("error writing response", "error", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching
// handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}

func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w}
		next.ServeHTTP(writer, r)

		slog.Info("request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// New constructs the admin server on the given port.
func New(port int, h Handlers) *http.Server {
	r := ErrRouter{Router: mux.NewRouter()}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleE("/v1/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	r.HandleE("/v1/subscriptions/{id}", h.deleteSubscription).Methods(http.MethodDelete)
	r.HandleE("/v1/subscriptions/{id}/replay", h.replaySubscription).Methods(http.MethodPost)
	r.HandleE("/v1/sync", h.triggerSync).Methods(http.MethodPost)

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		Handler:      handlers.RecoveryHandler()(accessLogMiddleware(r)),
	}
}
