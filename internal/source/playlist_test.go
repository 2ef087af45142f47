package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/logging"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="cnn.us" tvg-name="CNN HD" tvg-logo="http://logo/cnn.png" group-title="News",CNN HD
http://host/live/abc/55
#EXTINF:-1 tvg-name="Film, The" group-title="Drama",Film, The
http://host/movie/abc/123.mp4
#EXTINF:-1,Untagged Channel
http://host/stream/index.m3u8
#EXTINF:-1 group-title="News"
http://host/live/abc/56

#EXTINF:-1,dangling without url
`

func TestParsePlaylist(t *testing.T) {
	pl, err := ParsePlaylist(strings.NewReader(samplePlaylist))
	require.NoError(t, err)
	require.Len(t, pl.Tracks, 4)
	assert.Equal(t, "CNN HD", pl.Tracks[0].Name)
	assert.Equal(t, "http://host/live/abc/55", pl.Tracks[0].URI)
	assert.Equal(t, "Film, The", pl.Tracks[1].Name)
	assert.Equal(t, -1, pl.Tracks[2].Length)
}

func TestFromPlaylist(t *testing.T) {
	pl, err := ParsePlaylist(strings.NewReader(samplePlaylist))
	require.NoError(t, err)
	b := FromPlaylist(pl)

	require.Len(t, b.Live, 3)
	require.Len(t, b.Movies, 1)

	cnn := b.Live[0]
	assert.Equal(t, "CNN HD", cnn.Name)
	assert.Equal(t, "News", cnn.CategoryID)
	assert.Equal(t, "http://logo/cnn.png", cnn.StreamIcon)
	assert.Equal(t, "cnn.us", cnn.EPGChannelID)
	assert.Equal(t, 55, cnn.StreamID)

	untagged := b.Live[1]
	assert.Equal(t, "Untagged Channel", untagged.Name)
	assert.Equal(t, DefaultGroup, untagged.CategoryID)
	assert.Empty(t, untagged.StreamIcon)
	assert.Equal(t, 2, untagged.StreamID, "non-numeric segment gets the sequential placeholder")

	assert.Equal(t, DefaultName, b.Live[2].Name)

	film := b.Movies[0]
	assert.Equal(t, catalog.TypeMovie, film.StreamType)
	assert.Equal(t, 123, film.StreamID)
	assert.Equal(t, "mp4", film.ContainerExtension)
	assert.Equal(t, "Drama", film.CategoryID)

	assert.Equal(t, []catalog.Category{
		{CategoryID: "News", CategoryName: "News"},
		{CategoryID: DefaultGroup, CategoryName: DefaultGroup},
	}, b.LiveCategories)
	assert.Equal(t, []catalog.Category{{CategoryID: "Drama", CategoryName: "Drama"}}, b.MovieCategories)
}

func TestIsMovieURL(t *testing.T) {
	assert.True(t, IsMovieURL("http://host/movie/abc/123.mp4"))
	assert.True(t, IsMovieURL("/movie/abc/123.mp4"))
	assert.False(t, IsMovieURL("http://host/live/abc/55"))
	assert.False(t, IsMovieURL("http://host/movies/abc/55"))
	assert.False(t, IsMovieURL("http://host/live/abc/55?x=/movie/"))
}

func TestPlaylistSource_localFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.m3u")
	require.NoError(t, os.WriteFile(path, []byte(samplePlaylist), 0600))
	p := &PlaylistSource{Label: "local", Location: path, Log: logging.Discard()}
	b := p.Fetch(context.Background())
	assert.Len(t, b.Live, 3)
	assert.Len(t, b.Movies, 1)
}

func TestPlaylistSource_missingFileIsEmpty(t *testing.T) {
	p := &PlaylistSource{Label: "gone", Location: filepath.Join(t.TempDir(), "none.m3u"), Log: logging.Discard()}
	assert.True(t, p.Fetch(context.Background()).Empty())
}
