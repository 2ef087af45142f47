package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type compressWriter struct {
	http.ResponseWriter
	w io.Writer
}

func (c *compressWriter) Write(b []byte) (int, error) { return c.w.Write(b) }

// compress encodes the response with brotli or gzip when the client accepts it.
// Catalog listings are large and highly repetitive.
func compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc := brotli.HTTPCompressor(w, r)
		defer wc.Close()
		next.ServeHTTP(&compressWriter{ResponseWriter: w, w: wc}, r)
	})
}
