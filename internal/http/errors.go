package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
)

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	var (
		ve *conversation.ValidationError
		se *conversation.StateConflictError
		ue *conversation.UpstreamServiceError
		ce *conversation.ConfigurationError
		he *echo.HTTPError
	)
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &se):
		return http.StatusConflict
	case errors.As(err, &ue):
		return http.StatusBadGateway
	case errors.As(err, &ce):
		return http.StatusInternalServerError
	case errors.As(err, &he):
		return he.Code
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders errors as ErrorResponse.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := statusFor(err)
		resp := ErrorResponse{Message: err.Error()}

		var (
			he *echo.HTTPError
			ve *conversation.ValidationError
		)
		switch {
		case errors.As(err, &he):
			if msg, ok := he.Message.(string); ok {
				resp.Message = msg
			}
		case errors.Is(err, orchestrator.ErrNotFound):
			resp.Kind = "not_found"
		default:
			resp.Kind = conversation.Kind(err)
			if errors.As(err, &ve) {
				resp.Field = ve.Field
			}
		}
		if code >= http.StatusInternalServerError && resp.Kind == conversation.KindInternal {
			resp.Message = http.StatusText(code)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, resp)
		}
		if err != nil {
			e.Logger.Error(err)
		}
	}
}
