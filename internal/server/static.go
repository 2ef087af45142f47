package server

import (
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jamesnetherton/m3u"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/logo"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

const emptyGuide = `<?xml version="1.0" encoding="UTF-8"?><tv></tv>`

func (s *Server) serveXMLTV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, emptyGuide)
}

// serveLogo serves one file from the logo dir. The name is checked against
// the generated-name pattern before the filesystem is touched.
func (s *Server) serveLogo(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if !logo.ValidFilename.MatchString(name) {
		http.Error(w, "400 Invalid filename", http.StatusBadRequest)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, filepath.Join(s.LogoDir, name))
}

// servePlaylist exports the catalog as M3U with URLs pointing back at this
// server's redirect routes, so clients never see origin URLs.
func (s *Server) servePlaylist(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user, pass := q.Get("username"), q.Get("password")
	if !s.authorized(user, pass) {
		metrics.RecordAuthFailure()
		metrics.RecordRequest("get.php", "unauthorized")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	body, err := m3u.Marshall(Playlist(s.Catalog(), s.BaseURL, user, pass))
	if err != nil {
		s.Log.WithError(err).Error("playlist export")
		http.Error(w, "playlist export failed", http.StatusInternalServerError)
		return
	}
	metrics.RecordRequest("get.php", "200")
	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	io.Copy(w, body)
}

// Playlist converts c into M3U tracks for the given client login.
func Playlist(c *catalog.Catalog, baseURL, user, pass string) m3u.Playlist {
	liveNames := categoryNames(c.LiveCategories)
	movieNames := categoryNames(c.MovieCategories)
	u, p := url.PathEscape(user), url.PathEscape(pass)

	pl := m3u.Playlist{Tracks: make([]m3u.Track, 0, len(c.LiveStreams)+len(c.MovieStreams))}
	for _, l := range c.LiveStreams {
		uri := baseURL + "/live/" + u + "/" + p + "/" + strconv.Itoa(l.StreamID) + ".ts"
		pl.Tracks = append(pl.Tracks, track(&l.StreamBase, liveNames[l.CategoryID], uri))
	}
	for _, m := range c.MovieStreams {
		ext := m.ContainerExtension
		if ext == "" {
			ext = "mp4"
		}
		uri := baseURL + "/movie/" + u + "/" + p + "/" + strconv.Itoa(m.StreamID) + "." + ext
		pl.Tracks = append(pl.Tracks, track(&m.StreamBase, movieNames[m.CategoryID], uri))
	}
	return pl
}

func track(b *catalog.StreamBase, group, uri string) m3u.Track {
	t := m3u.Track{Name: b.Name, Length: -1, URI: uri}
	if b.EPGChannelID != "" {
		t.Tags = append(t.Tags, m3u.Tag{Name: "tvg-id", Value: b.EPGChannelID})
	}
	t.Tags = append(t.Tags, m3u.Tag{Name: "tvg-name", Value: b.Name})
	if b.StreamIcon != "" {
		t.Tags = append(t.Tags, m3u.Tag{Name: "tvg-logo", Value: b.StreamIcon})
	}
	if group != "" {
		t.Tags = append(t.Tags, m3u.Tag{Name: "group-title", Value: group})
	}
	return t
}

func categoryNames(cats []catalog.Category) map[string]string {
	m := make(map[string]string, len(cats))
	for _, c := range cats {
		m[c.CategoryID] = c.CategoryName
	}
	return m
}

type healthReport struct {
	Status          string `json:"status"`
	LiveStreams     int    `json:"live_streams"`
	MovieStreams    int    `json:"movie_streams"`
	LiveCategories  int    `json:"live_categories"`
	MovieCategories int    `json:"movie_categories"`
	LoadedAt        string `json:"loaded_at"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	c := s.Catalog()
	writeJSON(w, http.StatusOK, healthReport{
		Status:          "ok",
		LiveStreams:     len(c.LiveStreams),
		MovieStreams:    len(c.MovieStreams),
		LiveCategories:  len(c.LiveCategories),
		MovieCategories: len(c.MovieCategories),
		LoadedAt:        time.Unix(s.loadedAt.Load(), 0).UTC().Format(time.RFC3339),
	})
}
