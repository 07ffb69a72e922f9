package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/service"
)

// RequireAdmin aborts with 403 unless the session user is an admin. It must
// run after Session.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := CurrentUser(c)
			if u == nil || !u.IsAdmin {
				return c.JSON(http.StatusForbidden, echo.Map{"error": "admin access required", "code": service.KindForbidden})
			}
			return next(c)
		}
	}
}
