// Package errors provides the structured error type the admin HTTP
// surface responds with.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status alongside the wrapped error and any
// field-level details.
type Error struct {
	Status  int
	Err     error // The error this wraps
	Details []Detail
}

type Detail struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s, details: %v", e.Status, e.Err, e.Details)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type transport struct {
	Message string   `json:"message"`
	Details []Detail `json:"details"`
	Status  int      `json:"status"`
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(transport{
		Message: e.Err.Error(),
		Details: e.Details,
		Status:  e.Status,
	})
}

// E builds an [Error] from whatever it is given: a string or error
// becomes the wrapped error, an int the status, details are appended.
func E(args ...any) *Error {
	ret := &Error{
		Status: http.StatusInternalServerError,
	}

	for _, arg := range args {
		switch arg := arg.(type) {
		case string:
			ret.Err = errors.New(arg)
		case error:
			ret.Err = arg
		case int:
			ret.Status = arg
		case Detail:
			ret.Details = append(ret.Details, arg)
		case []Detail:
			ret.Details = append(ret.Details, arg...)
		}
	}

	return ret
}
