package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/handler"
)

// registerUploads registers /uploads. Stored image files under the same
// prefix are served before routing by middleware.StaticFiles.
func registerUploads(g *echo.Group, u *handler.UploadHandler) {
	g.POST("", u.Create)
	g.POST("/share", u.Share)
	g.POST("/share/patient/:patientId", u.SharePatient)
	g.POST("/send-email", u.SendEmail)
	g.GET("/item/:uploadId", u.Get)
	g.GET("/:patientId", u.ListForPatient)
	g.DELETE("/:uploadId", u.Delete)
}
