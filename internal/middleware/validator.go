package middleware

import (
	"net/http"
	"path/filepath"
	"strings"
)

// LimitBody caps the request body; reads past the limit fail with *http.MaxBytesError.
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// SanitizeFilename keeps the base name of an uploaded file without control characters.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = strings.ReplaceAll(name, `\`, "/")

	var b strings.Builder
	for _, r := range name {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}

	base := filepath.Base(strings.TrimSpace(b.String()))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
