package router

import "github.com/labstack/echo/v4"

// RegisterThumbnail registers the avatar endpoints. Downloads are public
// and go through the response cache.
func RegisterThumbnail(e *echo.Echo, d Deps) {
	t := d.Thumbnails
	g := e.Group("/api/thumbnail/avatar")
	gate := guarded(d)

	g.POST("/upload", t.Upload, gate...)
	g.POST("/flush", t.Flush, gate...)
	g.GET("/download", t.Download, orPass(d.AvatarCache))
}
