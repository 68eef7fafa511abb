package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgarced/vigilante/logger"
)

func TestContextHandler_AddsContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(logger.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := logger.Ctx(context.Background(), slog.String("feed_url", "https://example.com/rss.xml"))
	l.InfoContext(ctx, "checking feed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "checking feed", record["msg"])
	assert.Equal(t, "https://example.com/rss.xml", record["feed_url"])
}

func TestCtx_SiblingsDoNotShareAttrs(t *testing.T) {
	base := logger.Ctx(context.Background(), slog.String("cycle", "1"))
	a := logger.Ctx(base, slog.String("feed_url", "a"))
	b := logger.Ctx(base, slog.String("feed_url", "b"))

	var buf bytes.Buffer
	l := slog.New(logger.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	l.InfoContext(a, "first")
	l.InfoContext(b, "second")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))

	assert.Equal(t, "a", first["feed_url"])
	assert.Equal(t, "b", second["feed_url"])
	assert.Equal(t, "1", second["cycle"])
}
