package odata

import (
	"errors"
	"fmt"
	"net/http"

	"odatasample/internal/odata/query"
)

// ErrPathNotMatched is returned when a route's model does not describe the request path.
var ErrPathNotMatched = errors.New("path does not match the model")

// Error is a protocol level failure carrying the HTTP status and the error code sent to clients.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: fmt.Sprintf(format, args...)}
}

// asError converts any error returned while serving a request to an *Error.
// The second result is false for unexpected errors, which are reported as 500.
func asError(err error) (*Error, bool) {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e, true
	case errors.Is(err, query.ErrNotAllowed):
		return &Error{Status: http.StatusBadRequest, Code: "QUERY_OPTION_NOT_ALLOWED", Message: err.Error()}, true
	case errors.Is(err, query.ErrInvalidQuery), errors.Is(err, query.ErrInvalidKey), errors.Is(err, query.ErrInvalidLiteral):
		return &Error{Status: http.StatusBadRequest, Code: "BAD_REQUEST", Message: err.Error()}, true
	case errors.Is(err, ErrPathNotMatched):
		return &Error{Status: http.StatusNotFound, Code: "NOT_FOUND", Message: err.Error()}, true
	}
	return &Error{Status: http.StatusInternalServerError, Code: "INTERNAL_ERROR", Message: "internal server error"}, false
}
