package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type response struct {
	*Error
	RequestID string `json:"request_id,omitempty"`
}

// HTTPErrorHandler renders *Error and *echo.HTTPError values as
// {code, message, issues?, collaborator?, request_id}. Anything else is an
// INTERNAL error and its detail is only logged.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		appErr := From(err)

		evt := logger.Warn()
		if appErr.Status >= http.StatusInternalServerError {
			evt = logger.Error()
		}
		evt.Err(err).
			Str("code", appErr.Code).
			Int("status", appErr.Status).
			Str("path", c.Path()).
			Msg("request failed")

		reqID, _ := c.Get("request_id").(string)
		body := response{Error: appErr, RequestID: reqID}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(appErr.Status)
		} else {
			err = c.JSON(appErr.Status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// From converts any error into an *Error.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return &Error{Code: codeForStatus(he.Code), Status: he.Code, Message: fmt.Sprint(he.Message), Err: he.Internal}
	}
	return Internal(err)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return CodeBadRequest
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusPreconditionFailed:
		return CodeVersionConflict
	}
	if status >= 500 {
		return CodeInternal
	}
	return http.StatusText(status)
}
