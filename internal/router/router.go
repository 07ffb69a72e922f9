// Package router assembles the echo instance: global middleware, static
// image files and every API route.
package router

import (
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/fracture-records/internal/config"
	"github.com/iliyamo/fracture-records/internal/handler"
	"github.com/iliyamo/fracture-records/internal/metrics"
	"github.com/iliyamo/fracture-records/internal/middleware"
	"github.com/iliyamo/fracture-records/internal/service"
)

// Deps is everything the HTTP layer needs.
type Deps struct {
	Log          zerolog.Logger
	Auth         *service.AuthService
	Patients     *service.PatientService
	Uploads      *service.UploadService
	Admin        *service.AdminService
	Files        fs.FS // served under /uploads
	DB           handler.Pinger
	Redis        *redis.Client
	Metrics      *metrics.Metrics
	RateLimit    config.RateLimitConfig
	CORSOrigins  []string
	SecureCookie bool
	// BodyLimit caps request bodies, e.g. "12M"; empty disables the cap.
	BodyLimit string
}

// New builds the echo instance with all routes registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(d.Log)

	e.Pre(
		middleware.Recovery(d.Log),
		middleware.RequestID(),
		middleware.Logger(d.Log),
		echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     d.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
			AllowCredentials: true,
		}),
	)
	if d.Files != nil {
		e.Pre(middleware.StaticFiles("/uploads", d.Files))
	}
	if d.Metrics != nil {
		e.Use(d.Metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}
	if d.BodyLimit != "" {
		e.Use(echomw.BodyLimit(d.BodyLimit))
	}
	e.GET("/healthz", handler.Health(d.DB))

	limit := middleware.RateLimit(d.RateLimit, d.Redis, d.Log)
	session := middleware.Session(d.Auth)

	auth := handler.NewAuthHandler(d.Auth, d.SecureCookie)
	users := handler.NewUserHandler(d.Admin, d.Uploads)
	patients := handler.NewPatientHandler(d.Patients)
	uploads := handler.NewUploadHandler(d.Uploads)

	registerAuth(e, auth, uploads, limit)
	registerUsers(e.Group("/user", session, limit), auth, users)
	registerPatients(e.Group("/patients", session, limit), patients)
	registerUploads(e.Group("/uploads", session, limit), uploads)
	return e
}
