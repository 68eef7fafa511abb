// Package logger carries slog attributes through a context so that deep
// call sites (one feed's processing inside a cycle) log with the
// surrounding attrs attached.
package logger

import (
	"context"
	"log/slog"
	"slices"
)

type contextKey string

const attrKey contextKey = "attrKey"

// ContextHandler implements [slog.Handler] and adds to the log record
// any attributes previously attached to the context with [Ctx].
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a new instance of ContextHandler
// with `handler` as the base.
func NewContextHandler(handler slog.Handler) ContextHandler {
	return ContextHandler{Handler: handler}
}

// Handle implements [slog.Handler] interface.
func (h ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	attrs, ok := ctx.Value(attrKey).([]slog.Attr)
	if ok {
		record.AddAttrs(attrs...)
	}

	return h.Handler.Handle(ctx, record)
}

// Ctx creates a new context with the attached attributes.
//
// These will get logged later by the [ContextHandler] if given the resulting context.
func Ctx(ctx context.Context, toAppend ...slog.Attr) context.Context {
	attrs, _ := ctx.Value(attrKey).([]slog.Attr)

	// Clone so sibling contexts never share a backing array.
	attrs = append(slices.Clone(attrs), toAppend...)

	return context.WithValue(ctx, attrKey, attrs)
}
