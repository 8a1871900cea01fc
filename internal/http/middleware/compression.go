package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware so media payloads
// bypass it. Segments and direct-served files are already compressed video;
// gzip spends CPU to save nothing and its buffering delays delivery.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/stream/") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}
