package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sapling/core/internal/domain/entities"
	"github.com/sapling/core/internal/ports"
)

// Context keys set by the authentication middleware
const (
	ContextAccountID    = "account_id"
	ContextAccountEmail = "account_email"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Message string `json:"message"`
}

// MessageResponse represents a simple message response
type MessageResponse struct {
	Message string `json:"message"`
}

// StatusFor maps a domain error kind to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, entities.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, entities.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, entities.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, entities.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// toHTTPError converts a service error into an echo error. Unclassified
// errors keep their detail out of the response.
func toHTTPError(err error) *echo.HTTPError {
	code := StatusFor(err)
	var domainErr *entities.Error
	if code == http.StatusInternalServerError || !errors.As(err, &domainErr) {
		return echo.NewHTTPError(code, http.StatusText(code)).SetInternal(err)
	}
	if code == http.StatusServiceUnavailable {
		return echo.NewHTTPError(code, "storage temporarily unavailable, retry later").SetInternal(err)
	}
	return echo.NewHTTPError(code, domainErr.Message).SetInternal(err)
}

func accountIDFromContext(c echo.Context) string {
	id, _ := c.Get(ContextAccountID).(string)
	return id
}

// bindAndValidate binds the request body and runs struct validation.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format")
	}
	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// stream writes every value of feed as a server-sent event until the feed
// ends or the client goes away. A feed that failed ends with an "error"
// event carrying the same message the JSON endpoints would return.
func stream[T any, R any](c echo.Context, feed *ports.Feed[T], event string, render func(T) R) error {
	defer feed.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case v, ok := <-feed.C:
			if !ok {
				if err := feed.Err(); err != nil {
					_ = writeEvent(w, "error", ErrorResponse{Message: fmt.Sprint(toHTTPError(err).Message)})
				}
				return nil
			}
			if err := writeEvent(w, event, render(v)); err != nil {
				return nil
			}
		}
	}
}

// writeEvent frames v as one server-sent event and flushes it.
func writeEvent(w *echo.Response, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
