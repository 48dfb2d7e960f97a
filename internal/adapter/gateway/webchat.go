package gateway

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed webchat
var webChatFiles embed.FS

// webChatHandler serves the static chat page. Anything other than the page
// and its assets is a 404.
func webChatHandler() http.Handler {
	sub, err := fs.Sub(webChatFiles, "webchat")
	if err != nil {
		panic(err)
	}
	files := http.FileServerFS(sub)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html", "/app.js", "/style.css":
		default:
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
