package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Detail  interface{} `json:"detail,omitempty"`
}

// APIError is carried as the Message of an *echo.HTTPError when a handler
// wants a specific error kind or a structured detail in the response.
type APIError struct {
	Kind    string
	Message string
	Detail  interface{}
}

// NewAPIError builds an *echo.HTTPError rendered as
// {"error": kind, "message": message, "detail": detail}. An empty kind is
// derived from the status code.
func NewAPIError(code int, kind, message string, detail interface{}) *echo.HTTPError {
	return echo.NewHTTPError(code, APIError{Kind: kind, Message: message, Detail: detail})
}

// HTTPErrorHandler renders handler errors as ErrorBody. Anything that is not
// an *echo.HTTPError is logged and reported as a bare 500.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		body := ErrorBody{Error: kindFor(code), Message: "internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			body.Error = kindFor(code)
			switch m := he.Message.(type) {
			case APIError:
				if m.Kind != "" {
					body.Error = m.Kind
				}
				body.Message = m.Message
				body.Detail = m.Detail
			case string:
				body.Message = m
			case error:
				body.Message = m.Error()
			default:
				body.Message = http.StatusText(code)
				body.Detail = m
			}
		} else {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).Str("request_id", rid).Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

// kindFor turns a status code into a snake_case kind, e.g. 404 -> "not_found".
func kindFor(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}
