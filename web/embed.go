// Package web embeds the streaming demo page (dist/) served under /demo/.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// Prefix is the URL path the demo is mounted under.
const Prefix = "/demo"

type demo struct {
	files  fs.FS
	static http.Handler
}

// DemoHandler serves the embedded demo assets. It expects Prefix to be
// stripped already. Paths that match no asset get index.html, which is
// never cached so a redeploy is picked up on reload.
func DemoHandler() http.Handler {
	files, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return &demo{files: files, static: http.FileServerFS(files)}
}

// Mount registers the demo under Prefix on mux-like routers.
func Mount(handle func(pattern string, h http.Handler)) {
	handle(Prefix+"/*", http.StripPrefix(Prefix, DemoHandler()))
}

func (d *demo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name != "" && name != "index.html" {
		if info, err := fs.Stat(d.files, name); err == nil && !info.IsDir() {
			w.Header().Set("Cache-Control", "public, max-age=300")
			d.static.ServeHTTP(w, r)
			return
		}
	}

	index, err := fs.ReadFile(d.files, "index.html")
	if err != nil {
		http.Error(w, "demo page not built", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(index)
}
