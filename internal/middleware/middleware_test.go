package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fracture-records/internal/config"
	"github.com/iliyamo/fracture-records/internal/model"
	"github.com/iliyamo/fracture-records/internal/service"
)

type stubAuth struct {
	users map[string]*model.User
	err   error
}

func (s stubAuth) Authenticate(_ context.Context, token string) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if u, ok := s.users[token]; ok {
		return u, nil
	}
	return nil, &service.Error{Kind: service.KindAuth, Message: "invalid session"}
}

func whoami(c echo.Context) error {
	u := CurrentUser(c)
	if u == nil {
		return c.String(http.StatusOK, "nobody")
	}
	return c.String(http.StatusOK, u.Email)
}

func TestSession(t *testing.T) {
	auth := stubAuth{users: map[string]*model.User{"good": {ID: 7, Email: "a@x.com"}}}
	e := echo.New()
	e.GET("/me", whoami, Session(auth))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good"}) }, http.StatusOK, "a@x.com"},
		{"bearer", func(r *http.Request) { r.Header.Set(echo.HeaderAuthorization, "Bearer good") }, http.StatusOK, "a@x.com"},
		{"bad token", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "bad"}) }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"auth"`)
			}
		})
	}
}

func TestSessionStoreFailureIsNotAuthError(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, Session(stubAuth{err: errors.New("db down")}))
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer x")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	auth := stubAuth{users: map[string]*model.User{
		"admin": {ID: 1, Email: "root@x.com", IsAdmin: true},
		"user":  {ID: 2, Email: "a@x.com"},
	}}
	e := echo.New()
	e.GET("/admin", whoami, Session(auth), RequireAdmin())

	for token, want := range map[string]int{"admin": http.StatusOK, "user": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}
}

func TestRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestID())
	e.GET("/", func(c echo.Context) error { return c.String(http.StatusOK, GetRequestID(c)) })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-id")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "my-id", rec.Header().Get(RequestIDHeader))
}

func TestRecoveryAndLogger(t *testing.T) {
	e := echo.New()
	e.Use(Logger(zerolog.Nop()), Recovery(zerolog.Nop()))
	e.GET("/panic", func(echo.Context) error { panic("boom") })
	e.GET("/fail", func(echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "tea") })

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStaticFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"123-abcd.png":         {Data: []byte("png-bytes")},
		"reports/r-report.pdf": {Data: []byte("%PDF-1.4")},
	}
	e := echo.New()
	e.Pre(StaticFiles("/uploads", fsys))
	e.GET("/uploads/:patientId", func(c echo.Context) error { return c.String(http.StatusOK, "route "+c.Param("patientId")) })

	tests := []struct {
		method, path string
		status       int
		body         string
	}{
		{http.MethodGet, "/uploads/123-abcd.png", http.StatusOK, "png-bytes"},
		{http.MethodGet, "/uploads/reports/r-report.pdf", http.StatusOK, "%PDF-1.4"},
		{http.MethodGet, "/uploads/42", http.StatusOK, "route 42"},
		{http.MethodGet, "/uploads/../secret", http.StatusOK, "route ../secret"},
		{http.MethodGet, "/uploads/reports", http.StatusOK, "route reports"},
		{http.MethodGet, "/secret", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.status, rec.Code, tt.path)
		if tt.body != "" {
			assert.Equal(t, tt.body, rec.Body.String(), tt.path)
		}
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/uploads/123-abcd.png", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	// Only reads are served from disk.
	e.DELETE("/uploads/:uploadId", func(c echo.Context) error { return c.String(http.StatusOK, "deleted "+c.Param("uploadId")) })
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/uploads/123-abcd.png", nil))
	assert.Equal(t, "deleted 123-abcd.png", rec.Body.String())
}

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		RateLimit(config.RateLimitConfig{Enabled: true}, nil, zerolog.Nop()))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/patients", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/patients")

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_user_route"}
	assert.Equal(t, "rl:ip:10.0.0.1:user:anon:route:GET /patients", rateKey(cfg, c))

	c.Set(userKey, &model.User{ID: 9})
	cfg.KeyStrategy = "user"
	require.Equal(t, "rl:user:9", rateKey(cfg, c))
}
