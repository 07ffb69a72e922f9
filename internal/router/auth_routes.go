package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/handler"
)

// registerAuth registers the endpoints reachable without a session.
func registerAuth(e *echo.Echo, a *handler.AuthHandler, u *handler.UploadHandler, limit echo.MiddlewareFunc) {
	e.POST("/register", a.Register, limit)
	e.POST("/login", a.Login, limit)
	e.POST("/logout", a.Logout)
	e.POST("/forgot-password", a.ForgotPassword, limit)
	e.POST("/reset-password", a.ResetPassword, limit)
	e.POST("/send-email", u.Contact, limit)
}
