package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/handler"
	"github.com/iliyamo/fracture-records/internal/middleware"
)

// registerUsers registers /user. The group already requires a session;
// administration routes additionally require the admin flag.
func registerUsers(g *echo.Group, a *handler.AuthHandler, u *handler.UserHandler) {
	g.GET("/profile", a.Profile)
	g.POST("/change-password", a.ChangePassword)
	g.GET("/shared-uploads", u.Shared)
	g.DELETE("/shared-upload/:id", u.RemoveSharedUpload)
	g.DELETE("/shared-patient/:id", u.RemoveSharedPatient)

	admin := middleware.RequireAdmin()
	g.GET("/all-users", u.List, admin)
	g.PUT("/update/:id", u.Update, admin)
	g.DELETE("/delete/:id", u.Delete, admin)

	// admin or self, checked by the service
	g.GET("/:id", u.Get)
}
