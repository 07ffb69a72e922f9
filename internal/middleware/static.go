package middleware

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// StaticFiles serves files of fsys under prefix for GET and HEAD. Paths
// that name no file, and directories, fall through to the router, so API
// routes can share the prefix. Register it with Echo.Pre.
func StaticFiles(prefix string, fsys fs.FS) echo.MiddlewareFunc {
	prefix = "/" + strings.Trim(prefix, "/")
	static := echomw.StaticWithConfig(echomw.StaticConfig{
		Skipper: func(c echo.Context) bool {
			req := c.Request()
			if req.Method != http.MethodGet && req.Method != http.MethodHead {
				return true
			}
			return !strings.HasPrefix(req.URL.Path, prefix+"/")
		},
		Filesystem: http.FS(mountFS{dir: prefix[1:], fs: fsys}),
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		serve := static(next)
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, prefix+"/") {
				c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			}
			return serve(c)
		}
	}
}

// mountFS exposes fs under dir, the first path element of the URL.
type mountFS struct {
	dir string
	fs  fs.FS
}

func (m mountFS) Open(name string) (fs.File, error) {
	if name == m.dir {
		return m.fs.Open(".")
	}
	rest, ok := strings.CutPrefix(name, m.dir+"/")
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return m.fs.Open(rest)
}
