package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/jamesnetherton/m3u"
	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/httpclient"
	"github.com/plextuner/iptv-catalog/internal/metrics"
	"github.com/plextuner/iptv-catalog/internal/safeurl"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// Playlist attribute defaults.
const (
	DefaultName  = "Unknown"
	DefaultGroup = "Other"
)

var tagRE = regexp.MustCompile(`([a-zA-Z0-9-]+?)="([^"]*)"`)

// PlaylistSource reads an M3U playlist from an http(s) URL or a local file.
type PlaylistSource struct {
	Label    string
	Location string
	Client   *http.Client
	Log      logrus.FieldLogger
}

func (p *PlaylistSource) Name() string { return p.Label }

// Fetch loads and parses the playlist. Any read error yields an empty batch.
func (p *PlaylistSource) Fetch(ctx context.Context) Batch {
	data, err := p.read(ctx)
	if err != nil {
		metrics.RecordSourceError(p.Label, "fetch")
		p.Log.WithError(err).Warn("playlist unreadable; skipping source")
		return Batch{}
	}
	pl, err := ParsePlaylist(bytes.NewReader(data))
	if err != nil {
		metrics.RecordSourceError(p.Label, "parse")
		p.Log.WithError(err).Warn("playlist parse failed; skipping source")
		return Batch{}
	}
	return FromPlaylist(pl)
}

func (p *PlaylistSource) read(ctx context.Context) ([]byte, error) {
	if safeurl.Fetchable(p.Location) {
		return httpclient.Get(ctx, p.Client, p.Location)
	}
	return os.ReadFile(p.Location)
}

// ParsePlaylist parses an M3U document into tracks. A missing #EXTM3U header is
// tolerated; a URL line without a preceding #EXTINF becomes a bare track.
func ParsePlaylist(r io.Reader) (m3u.Playlist, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	var pl m3u.Playlist
	pending := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			pl.Tracks = append(pl.Tracks, parseEXTINF(strings.TrimPrefix(line, "#EXTINF:")))
			pending = true
		case strings.HasPrefix(line, "#"):
		case pending:
			pl.Tracks[len(pl.Tracks)-1].URI = line
			pending = false
		default:
			pl.Tracks = append(pl.Tracks, m3u.Track{Length: -1, URI: line})
		}
	}
	if err := sc.Err(); err != nil {
		return m3u.Playlist{}, err
	}
	// Drop metadata lines that never got a URL.
	tracks := pl.Tracks[:0]
	for _, t := range pl.Tracks {
		if t.URI != "" {
			tracks = append(tracks, t)
		}
	}
	pl.Tracks = tracks
	return pl, nil
}

// parseEXTINF splits `-1 tvg-id="x" group-title="y",Title` into a track.
// The title is the text after the first comma outside quoted attribute values.
func parseEXTINF(info string) m3u.Track {
	t := m3u.Track{Length: -1}
	head, title := info, ""
	inQuote := false
	for i, r := range info {
		if r == '"' {
			inQuote = !inQuote
		}
		if r == ',' && !inQuote {
			head, title = info[:i], info[i+1:]
			break
		}
	}
	t.Name = strings.TrimSpace(title)
	if fields := strings.Fields(head); len(fields) > 0 {
		if n, err := strconv.Atoi(fields[0]); err == nil {
			t.Length = n
		}
	}
	for _, m := range tagRE.FindAllStringSubmatch(head, -1) {
		t.Tags = append(t.Tags, m3u.Tag{Name: m[1], Value: m[2]})
	}
	return t
}

func tag(t m3u.Track, name string) string {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg.Name, name) {
			return strings.TrimSpace(tg.Value)
		}
	}
	return ""
}

// FromPlaylist converts tracks into a batch. Category id equals the group name.
func FromPlaylist(pl m3u.Playlist) Batch {
	var (
		b                   Batch
		liveCats, vodCats   categoryIndex
		nextLive, nextMovie int
	)
	for _, t := range pl.Tracks {
		name := tag(t, "tvg-name")
		if name == "" {
			name = t.Name
		}
		if name == "" {
			name = DefaultName
		}
		group := tag(t, "group-title")
		if group == "" {
			group = DefaultGroup
		}
		base := catalog.StreamBase{
			Name:         name,
			StreamIcon:   tag(t, "tvg-logo"),
			EPGChannelID: tag(t, "tvg-id"),
			Added:        now().Unix(),
			CategoryID:   group,
			DirectSource: t.URI,
		}
		id, ext := lastSegment(t.URI)
		if IsMovieURL(t.URI) {
			nextMovie++
			base.StreamType = catalog.TypeMovie
			base.StreamID = orPlaceholder(id, nextMovie)
			if ext == "" {
				ext = "mp4"
			}
			vodCats.add(group, group)
			b.Movies = append(b.Movies, catalog.MovieStream{StreamBase: base, ContainerExtension: ext})
			continue
		}
		nextLive++
		base.StreamType = catalog.TypeLive
		base.StreamID = orPlaceholder(id, nextLive)
		liveCats.add(group, group)
		b.Live = append(b.Live, catalog.LiveStream{StreamBase: base})
	}
	b.LiveCategories = liveCats.list
	b.MovieCategories = vodCats.list
	return b
}

// IsMovieURL reports whether the URL path has a "movie" segment.
func IsMovieURL(raw string) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "movie" {
			return true
		}
	}
	return false
}

// lastSegment returns the numeric id and extension of the URL's last path segment.
func lastSegment(raw string) (id int, ext string) {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	last := path.Base(p)
	ext = strings.TrimPrefix(path.Ext(last), ".")
	stem := strings.TrimSuffix(last, path.Ext(last))
	if n, err := strconv.Atoi(stem); err == nil && n > 0 {
		id = n
	}
	return id, ext
}

func orPlaceholder(id, seq int) int {
	if id > 0 {
		return id
	}
	return seq
}
