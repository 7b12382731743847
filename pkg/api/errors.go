package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/hearth-ai/assistant/pkg/apperrors"
)

// ErrorResponse is the JSON shape of every error response (spec §6:
// `errors as {error: string}`).
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeError maps err to the JSON error envelope and an appropriate HTTP
// status, logging anything that doesn't map to a known apperrors kind.
func writeError(c *echo.Context, err error) error {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("unhandled api error", "error", err)
	}
	return c.JSON(status, ErrorResponse{Error: msg})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrBadInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, apperrors.ErrBusyQueue):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, apperrors.ErrKnowledgeUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, apperrors.ErrAuthFailure):
		return http.StatusUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// httpErrorHandler replaces echo's default error handler so that even
// framework-level errors (404, bad binding, body-limit) go out in the
// {error: string} envelope rather than echo's own HTTPError shape.
func httpErrorHandler(err error, c *echo.Context) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		_ = c.JSON(he.Code, ErrorResponse{Error: msg})
		return
	}
	_ = writeError(c, err)
}
