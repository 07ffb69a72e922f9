package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// identity names the caller for rate-limit keys: the session user id when
// Session already ran, otherwise "anon".
func identity(c echo.Context) string {
	if u := CurrentUser(c); u != nil {
		return strconv.FormatUint(u.ID, 10)
	}
	return "anon"
}
