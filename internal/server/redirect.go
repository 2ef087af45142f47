package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// StreamKind selects the catalog partition a redirect route resolves against.
// It is fixed when the route is registered.
type StreamKind int

const (
	KindLive StreamKind = iota
	KindMovie
)

func (k StreamKind) String() string {
	if k == KindMovie {
		return "movie"
	}
	return "live"
}

// resolve returns the origin URL of stream id in partition k.
func (s *Server) resolve(k StreamKind, id int) (string, bool) {
	c := s.Catalog()
	switch k {
	case KindMovie:
		if m, ok := c.FindMovie(id); ok {
			return m.DirectSource, true
		}
	default:
		if l, ok := c.FindLive(id); ok {
			return l.DirectSource, true
		}
	}
	return "", false
}

// redirect authorizes the path credentials and sends the client to the
// stream's origin. Media bytes never pass through this server.
func (s *Server) redirect(k StreamKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if !s.authorized(vars["username"], vars["password"]) {
			metrics.RecordAuthFailure()
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		id, err := strconv.Atoi(vars["id"])
		if err != nil {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		target, ok := s.resolve(k, id)
		metrics.RecordRedirect(k.String(), ok)
		if !ok {
			http.Error(w, "stream not found", http.StatusNotFound)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	})
}
