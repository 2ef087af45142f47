package logging

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the per-request id back to the client.
const RequestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// AccessLog logs one line per request with a generated request id.
// Credentials travel in the query string and the path, so neither is logged verbatim:
// only the route template (when the router supplies one via route) and the action.
func AccessLog(log logrus.FieldLogger, route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			path := r.URL.Path
			if route != nil {
				if tpl := route(r); tpl != "" {
					path = tpl
				}
			}
			fields := logrus.Fields{
				"request_id": id,
				"method":     r.Method,
				"path":       path,
				"status":     rec.status,
				"bytes":      rec.bytes,
				"duration":   time.Since(start).String(),
			}
			if action := r.URL.Query().Get("action"); action != "" {
				fields["action"] = action
			}
			entry := log.WithFields(fields)
			if rec.status >= 500 {
				entry.Warn("request")
			} else {
				entry.Debug("request")
			}
		})
	}
}
