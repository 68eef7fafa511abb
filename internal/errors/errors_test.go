package errors_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vigerrs "github.com/mgarced/vigilante/internal/errors"
)

func TestEConstructor(t *testing.T) {
	got := vigerrs.E(
		"something went wrong",
		vigerrs.Detail{Field: "chat_id", Error: "was bad"},
		http.StatusBadRequest,
	)
	want := &vigerrs.Error{
		Err: errors.New("something went wrong"),
		Details: []vigerrs.Detail{
			{Field: "chat_id", Error: "was bad"},
		},
		Status: http.StatusBadRequest,
	}

	assert.Equal(t, want, got)
}

func TestEDefaultsToInternal(t *testing.T) {
	got := vigerrs.E(errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, got.Status)
	assert.EqualError(t, got.Err, "boom")
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("inner")
	got := vigerrs.E(inner, http.StatusNotFound)

	assert.ErrorIs(t, got, inner)
}

func TestMarshalJSON(t *testing.T) {
	e := vigerrs.E("bad input", http.StatusBadRequest, vigerrs.Detail{Field: "feed_url", Error: "empty"})

	byts, err := json.Marshal(e)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"message": "bad input",
		"status": 400,
		"details": [{"field": "feed_url", "error": "empty"}]
	}`, string(byts))
}
