package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/logging"
)

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.LiveCategories = []catalog.Category{
		{CategoryID: "1", CategoryName: "News"},
		{CategoryID: "2", CategoryName: "Sports"},
	}
	c.LiveStreams = []catalog.LiveStream{
		{StreamBase: catalog.StreamBase{Num: 1, Name: "News 24", StreamType: catalog.TypeLive, StreamID: 101, CategoryID: "1", DirectSource: "http://origin/u/p/55"}},
		{StreamBase: catalog.StreamBase{Num: 2, Name: "Goal TV", StreamType: catalog.TypeLive, StreamID: 102, CategoryID: "2", DirectSource: "http://origin/u/p/56"}},
	}
	c.MovieCategories = []catalog.Category{{CategoryID: "1", CategoryName: "Drama"}}
	c.MovieStreams = []catalog.MovieStream{
		{StreamBase: catalog.StreamBase{Num: 1, Name: "Film", StreamType: catalog.TypeMovie, StreamID: 51, CategoryID: "1", StreamIcon: "http://x/cover.png", DirectSource: "http://origin/movie/u/p/9.mkv"}, ContainerExtension: "mkv"},
	}
	return c
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		BaseURL:     "http://10.0.0.2:8080",
		LogoDir:     t.TempDir(),
		Credentials: []config.Credential{{Username: "alice", Password: "s3cret"}},
	}
	return New(cfg, testCatalog(), logging.Discard())
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), rec.Body.String())
	return m
}

func TestPlayerAPI_unauthenticated(t *testing.T) {
	s := newTestServer(t)
	for _, target := range []string{
		"/player_api.php",
		"/player_api.php?username=alice&password=wrong&action=get_live_streams",
		"/player_api.php?username=ALICE&password=s3cret",
	} {
		rec := do(t, s, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.JSONEq(t, `{"user_info":{"auth":0}}`, rec.Body.String(), target)
	}
}

func TestPlayerAPI_summary(t *testing.T) {
	rec := do(t, newTestServer(t), "/player_api.php?username=alice&password=s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	ui := m["user_info"].(map[string]any)
	assert.EqualValues(t, 1, ui["auth"])
	assert.Equal(t, "alice", ui["username"])
	si := m["server_info"].(map[string]any)
	assert.Equal(t, "10.0.0.2", si["url"])
	assert.Equal(t, "8080", si["port"])
	assert.Len(t, m["available_channels"], 2)
	assert.Len(t, m["available_categories"], 2)
	assert.Len(t, m["movie_data"], 1)
	assert.Len(t, m["movie_categories"], 1)
}

func TestPlayerAPI_collections(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		action string
		want   int
	}{
		{"get_live_categories", 2},
		{"get_live_streams", 2},
		{"get_vod_categories", 1},
		{"get_vod_streams", 1},
		{"get_series_categories", 0},
		{"get_series", 0},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			rec := do(t, s, "/player_api.php?username=alice&password=s3cret&action="+tt.action)
			require.Equal(t, http.StatusOK, rec.Code)
			var list []json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list), rec.Body.String())
			assert.Len(t, list, tt.want)
		})
	}
}

func TestPlayerAPI_liveStreamsByCategory(t *testing.T) {
	rec := do(t, newTestServer(t), "/player_api.php?username=alice&password=s3cret&action=get_live_streams&category_id=2")
	var list []catalog.LiveStream
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Goal TV", list[0].Name)

	rec = do(t, newTestServer(t), "/player_api.php?username=alice&password=s3cret&action=get_live_streams&category_id=99")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPlayerAPI_vodInfo(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "/player_api.php?username=alice&password=s3cret&action=get_vod_info&vod_id=51")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	info := m["info"].(map[string]any)
	assert.Equal(t, "Film", info["name"])
	assert.Equal(t, "movie", info["stream_type"])
	assert.Equal(t, "1", info["genre"])
	assert.Equal(t, "http://x/cover.png", info["cover"])
	data := m["movie_data"].(map[string]any)
	assert.Equal(t, "mkv", data["container_extension"])
	assert.Equal(t, "http://origin/movie/u/p/9.mkv", data["direct_source"])
	assert.Equal(t, []any{"http://origin/movie/u/p/9.mkv"}, data["stream_source"])

	for _, id := range []string{"9999", "101", "abc", ""} {
		rec := do(t, s, "/player_api.php?username=alice&password=s3cret&action=get_vod_info&vod_id="+id)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"error":"vod not found"}`, rec.Body.String(), "vod_id=%q", id)
	}
}

func TestPlayerAPI_unknownAction(t *testing.T) {
	rec := do(t, newTestServer(t), "/player_api.php?username=alice&password=s3cret&action=get_epg")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Unknown action"}`, rec.Body.String())
}

func TestPlayerAPI_brotli(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/player_api.php?username=alice&password=s3cret&action=get_live_streams", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	var list []catalog.LiveStream
	require.NoError(t, json.NewDecoder(brotli.NewReader(rec.Body)).Decode(&list))
	assert.Len(t, list, 2)
}

func TestRedirect(t *testing.T) {
	s := newTestServer(t)
	tests := []struct {
		name     string
		target   string
		code     int
		location string
	}{
		{"bare live", "/alice/s3cret/101", http.StatusFound, "http://origin/u/p/55"},
		{"live with ext", "/live/alice/s3cret/102.ts", http.StatusFound, "http://origin/u/p/56"},
		{"movie", "/movie/alice/s3cret/51", http.StatusFound, "http://origin/movie/u/p/9.mkv"},
		{"movie with ext", "/movie/alice/s3cret/51.mkv", http.StatusFound, "http://origin/movie/u/p/9.mkv"},
		{"live id on movie route", "/movie/alice/s3cret/101", http.StatusNotFound, ""},
		{"movie id on live route", "/alice/s3cret/51", http.StatusNotFound, ""},
		{"unknown id", "/live/alice/s3cret/9999.ts", http.StatusNotFound, ""},
		{"bad credentials", "/alice/nope/101", http.StatusUnauthorized, ""},
		{"bad credentials movie", "/movie/bob/s3cret/51.mkv", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.target)
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, tt.location, rec.Header().Get("Location"))
			if tt.code == http.StatusNotFound {
				assert.Contains(t, rec.Body.String(), "stream not found")
			}
		})
	}
}

func TestSwap_servesNewSnapshot(t *testing.T) {
	s := newTestServer(t)
	next := testCatalog()
	next.LiveStreams[0].DirectSource = "http://elsewhere/1"
	old := s.Swap(next)
	require.NotNil(t, old)
	assert.Equal(t, "http://origin/u/p/55", old.LiveStreams[0].DirectSource)

	rec := do(t, s, "/alice/s3cret/101")
	assert.Equal(t, "http://elsewhere/1", rec.Header().Get("Location"))
}

func TestLogos(t *testing.T) {
	s := newTestServer(t)
	name := "5d41402abc4b2a76b9719d911017c592.png"
	require.NoError(t, os.WriteFile(filepath.Join(s.LogoDir, name), []byte("\x89PNG fake"), 0644))

	rec := do(t, s, "/logos/"+name)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "\x89PNG fake", rec.Body.String())

	rec = do(t, s, "/logos/00000000000000000000000000000000.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, bad := range []string{"custom_5d41402abc4b2a76b9719d911017c592.png", "passwd", "5D41402ABC4B2A76B9719D911017C592.png", "logo.png.exe"} {
		rec := do(t, s, "/logos/"+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestXMLTV(t *testing.T) {
	rec := do(t, newTestServer(t), "/xmltv.php")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?><tv></tv>`, rec.Body.String())
}

func TestGetPHP(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "/get.php?username=alice&password=s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	out := string(body)
	assert.True(t, strings.HasPrefix(out, "#EXTM3U"), out)
	assert.Contains(t, out, "http://10.0.0.2:8080/live/alice/s3cret/101.ts")
	assert.Contains(t, out, "http://10.0.0.2:8080/movie/alice/s3cret/51.mkv")
	assert.Contains(t, out, `group-title="Sports"`)
	assert.NotContains(t, out, "origin", "origin URLs must not leak into the export")

	rec = do(t, s, "/get.php?username=alice&password=bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode(t, rec)
	assert.Equal(t, "ok", m["status"])
	assert.EqualValues(t, 2, m["live_streams"])
	assert.EqualValues(t, 1, m["movie_streams"])
}

func TestRecoverPanics(t *testing.T) {
	s := newTestServer(t)
	h := s.recoverPanics(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}
