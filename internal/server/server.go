// Package server serves a catalog to IPTV clients: the player_api.php query
// API, credential-gated redirects to stream origins, logos and a stub guide.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/logging"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// Server holds the catalog being served. The catalog is an immutable snapshot
// swapped atomically on reload, so handlers never lock.
type Server struct {
	BaseURL     string
	Credentials []config.Credential
	LogoDir     string
	Log         logrus.FieldLogger

	catalog  atomic.Pointer[catalog.Catalog]
	loadedAt atomic.Int64
}

// New returns a server for cfg serving c.
func New(cfg *config.Config, c *catalog.Catalog, log logrus.FieldLogger) *Server {
	s := &Server{
		BaseURL:     cfg.BaseURL,
		Credentials: cfg.Credentials,
		LogoDir:     cfg.LogoDir,
		Log:         log,
	}
	s.Swap(c)
	return s
}

// Catalog returns the snapshot currently served.
func (s *Server) Catalog() *catalog.Catalog { return s.catalog.Load() }

// Swap replaces the served catalog and returns the previous one.
// Requests already in flight finish against the snapshot they started with.
func (s *Server) Swap(c *catalog.Catalog) *catalog.Catalog {
	if c == nil {
		c = catalog.New()
	}
	old := s.catalog.Swap(c)
	s.loadedAt.Store(time.Now().Unix())
	metrics.SetCatalogStreams(len(c.LiveStreams), len(c.MovieStreams))
	return old
}

// authorized reports whether username/password match a configured credential.
func (s *Server) authorized(username, password string) bool {
	for _, c := range s.Credentials {
		if c.Username == username && c.Password == password {
			return true
		}
	}
	return false
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(logging.AccessLog(s.Log, routeTemplate), s.recoverPanics)

	r.Handle("/player_api.php", compress(http.HandlerFunc(s.servePlayerAPI))).Methods(http.MethodGet)
	r.Handle("/get.php", compress(http.HandlerFunc(s.servePlaylist))).Methods(http.MethodGet)
	r.HandleFunc("/xmltv.php", s.serveXMLTV).Methods(http.MethodGet)
	r.HandleFunc("/logos/{filename}", s.serveLogo).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.serveHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.Handle("/live/{username}/{password}/{id:[0-9]+}.{ext}", s.redirect(KindLive)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/movie/{username}/{password}/{id:[0-9]+}.{ext}", s.redirect(KindMovie)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/movie/{username}/{password}/{id:[0-9]+}", s.redirect(KindMovie)).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/{username}/{password}/{id:[0-9]+}", s.redirect(KindLive)).Methods(http.MethodGet, http.MethodHead)
	return r
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return ""
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.Log.WithField("panic", v).WithField("path", routeTemplate(r)).Error("handler panic")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
// maxConns > 0 caps simultaneous connections.
func (s *Server) Run(ctx context.Context, addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", ln.Addr().String()).WithField("base_url", s.BaseURL).Info("listening")
		serverErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.Log.WithError(err).Warn("shutdown")
		}
		<-serverErr
		return nil
	}
}
