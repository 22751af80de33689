// Package apperror defines the stable error taxonomy shared by the scheduler,
// the invoice generator, and the HTTP layer. Services return errors carrying a
// Kind; the transport maps kinds to status codes in one place.
package apperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindPermissionDenied  Kind = "permission_denied"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidDuration   Kind = "invalid_duration"
	KindUnknownService    Kind = "unknown_service"
	KindRateSetupRequired Kind = "rate_setup_required"
	KindIdempotentReplay  Kind = "idempotent_replay"
	KindTransportFailure  Kind = "transport_failure"
	KindInvalidInput      Kind = "invalid_input"
	KindInternal          Kind = "internal"
)

// Error is an error with a stable kind tag.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

var statusByKind = map[Kind]int{
	KindConflict:          http.StatusConflict,
	KindNotFound:          http.StatusNotFound,
	KindPermissionDenied:  http.StatusForbidden,
	KindInvalidTransition: http.StatusUnprocessableEntity,
	KindInvalidDuration:   http.StatusUnprocessableEntity,
	KindUnknownService:    http.StatusUnprocessableEntity,
	KindRateSetupRequired: http.StatusUnprocessableEntity,
	KindInvalidInput:      http.StatusBadRequest,
	KindInternal:          http.StatusInternalServerError,
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// HTTPErrorHandler returns an echo error handler that serializes tagged errors
// as {"error": kind, "message": ...} with the mapped status. Untagged errors
// and echo.HTTPError values pass through with their own status.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var appErr *Error
		if errors.As(err, &appErr) {
			status := HTTPStatus(appErr.Kind)
			if status >= http.StatusInternalServerError {
				logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
			}
			_ = c.JSON(status, map[string]string{
				"error":   string(appErr.Kind),
				"message": appErr.Msg,
			})
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			_ = c.JSON(httpErr.Code, map[string]interface{}{"error": httpErr.Message})
			return
		}

		logger.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled error")
		_ = c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
