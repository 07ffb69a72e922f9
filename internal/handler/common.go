package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/middleware"
	"github.com/iliyamo/fracture-records/internal/model"
)

// requestTimeout bounds database-only handlers; upload creation runs under
// the predictor's own timeout instead.
const requestTimeout = 10 * time.Second

func withTimeout(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// caller returns the session user. Routes using it are behind Session.
func caller(c echo.Context) (*model.User, error) {
	u := middleware.CurrentUser(c)
	if u == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return u, nil
}

// paramID parses a positive numeric path parameter.
func paramID(c echo.Context, name string) (uint64, error) {
	n, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || n == 0 {
		return 0, badRequest("invalid " + name)
	}
	return n, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

func message(c echo.Context, status int, msg string) error {
	return c.JSON(status, echo.Map{"message": msg})
}

// flexID accepts an id sent either as a JSON number or as a string.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(v)
	return nil
}

// UnmarshalParam lets echo bind form values into a flexID.
func (f *flexID) UnmarshalParam(s string) error {
	return f.UnmarshalJSON([]byte(s))
}
