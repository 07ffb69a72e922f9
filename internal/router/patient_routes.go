package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/fracture-records/internal/handler"
)

func registerPatients(g *echo.Group, p *handler.PatientHandler) {
	g.GET("", p.List)
	g.POST("", p.Create)
	g.GET("/:id", p.Get)
	g.PUT("/:id", p.Update)
	g.DELETE("/:id", p.Delete)
}
