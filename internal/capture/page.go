package capture

import (
	_ "embed"
	"net/http"
)

//go:embed web/index.html
var capturePage []byte

// PageHandler serves the browser capture page, which connects back to /capture
func PageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(capturePage)
	})
}
