// Package web provides embedded static assets for the converter frontend.
package web

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed static/*
var staticFiles embed.FS

// GetFileSystem returns the embedded filesystem rooted at static/.
func GetFileSystem() (fs.FS, error) {
	return fs.Sub(staticFiles, "static")
}

// RegisterStaticRoutes registers the index page and crawler assets.
// API routes should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo) error {
	staticFS, err := GetFileSystem()
	if err != nil {
		return err
	}

	serve := func(name, contentType string) echo.HandlerFunc {
		return func(c echo.Context) error {
			data, err := fs.ReadFile(staticFS, name)
			if err != nil {
				return echo.NewHTTPError(http.StatusNotFound, "asset not found")
			}
			return c.Blob(http.StatusOK, contentType, data)
		}
	}

	e.GET("/", serve("index.html", echo.MIMETextHTMLCharsetUTF8))
	e.GET("/sitemap.xml", serve("sitemap.xml", "application/xml"))
	e.GET("/robots.txt", serve("robots.txt", "text/plain"))

	return nil
}
