package sitehttp

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

const (
	assetCacheControl = "public, max-age=3600"
	otherCacheControl = "no-cache"
)

// staticHandler serves fsys under /static/. Directory listings are 404s.
func staticHandler(fsys fs.FS) http.Handler {
	files := http.StripPrefix("/static/", http.FileServerFS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/static/")
		if name == "" || strings.HasSuffix(name, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", cacheControlFor(name))
		files.ServeHTTP(w, r)
	})
}

func cacheControlFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".css", ".js", ".mjs",
		".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg", ".ico",
		".woff", ".woff2", ".ttf", ".map":
		return assetCacheControl
	default:
		return otherCacheControl
	}
}
