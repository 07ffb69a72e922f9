package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/service"
)

// SessionCookie is the name of the HTTP-only cookie carrying the session token.
const SessionCookie = "token"

const userKey = "user"

// Authenticator resolves a session token to the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// sessionToken reads the token from the session cookie, falling back to an
// Authorization: Bearer header for non-browser clients.
func sessionToken(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

// Session rejects requests without a valid session and stores the
// authenticated user in the context. The user is reloaded on every request
// so shared lists and the admin flag are always current.
func Session(auth Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := sessionToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required", "code": service.KindAuth})
			}
			u, err := auth.Authenticate(c.Request().Context(), raw)
			if err != nil {
				if service.KindOf(err) == service.KindAuth {
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid session", "code": service.KindAuth})
				}
				return err
			}
			c.Set(userKey, u)
			return next(c)
		}
	}
}

// CurrentUser returns the user stored by Session, or nil.
func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(userKey).(*model.User)
	return u
}
