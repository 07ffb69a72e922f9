package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/middleware"
	"github.com/iliyamo/fracture-records/internal/service"
)

// statusFor maps a service error kind to its HTTP status.
func statusFor(k service.Kind) int {
	switch k {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindAuth:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindPredictionTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// kindFor classifies a plain HTTP status for the error body.
func kindFor(status int) service.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return service.KindValidation
	case http.StatusUnauthorized:
		return service.KindAuth
	case http.StatusForbidden:
		return service.KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return service.KindNotFound
	case http.StatusConflict:
		return service.KindConflict
	default:
		return service.KindInternal
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string       `json:"error"`
	Code  service.Kind `json:"code"`
}

// ErrorHandler renders service errors and echo HTTP errors as
// {"error", "code"}. Internal causes are logged, never sent.
func ErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var (
			status int
			body   errorBody
			se     *service.Error
			he     *echo.HTTPError
		)
		switch {
		case errors.As(err, &se):
			status = statusFor(se.Kind)
			body = errorBody{Error: se.Message, Code: se.Kind}
		case errors.As(err, &he):
			status = he.Code
			body = errorBody{Error: fmt.Sprint(he.Message), Code: kindFor(he.Code)}
			if status >= 500 {
				body.Error = "internal server error"
			}
		default:
			status = http.StatusInternalServerError
			body = errorBody{Error: "internal server error", Code: service.KindInternal}
		}
		if status >= 500 {
			log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).
				Str("path", c.Request().URL.Path).Msg("request failed")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			log.Warn().Err(werr).Msg("write error response")
		}
	}
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
