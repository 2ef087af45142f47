package source

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/httpclient"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// DefaultFeedURL is the public channel feed used when none is configured.
const DefaultFeedURL = "https://www.tdtchannels.com/lists/tv.json"

// FeedSource reads the static public channel feed grouped by ambit.
type FeedSource struct {
	Feed   config.Feed
	Client *http.Client
	Log    logrus.FieldLogger
}

func (f *FeedSource) Name() string { return f.prefix() }

type feedDoc struct {
	Countries []struct {
		Name   string `json:"name"`
		Ambits []struct {
			Name     string        `json:"name"`
			Channels []feedChannel `json:"channels"`
		} `json:"ambits"`
	} `json:"countries"`
}

type feedChannel struct {
	Name    string `json:"name"`
	Logo    string `json:"logo"`
	EPGID   string `json:"epg_id"`
	Options []struct {
		Format string `json:"format"`
		URL    string `json:"url"`
	} `json:"options"`
}

// Fetch downloads the feed and keeps allow-listed ambits. A category is only
// emitted when at least one of its channels offers a recognized format.
func (f *FeedSource) Fetch(ctx context.Context) Batch {
	u := f.Feed.URL
	if u == "" {
		u = DefaultFeedURL
	}
	var doc feedDoc
	if err := httpclient.GetJSON(ctx, f.Client, u, &doc); err != nil {
		metrics.RecordSourceError(f.Name(), "fetch")
		f.Log.WithError(err).Warn("feed unavailable; skipping source")
		return Batch{}
	}
	return f.fromDoc(doc)
}

// fromDoc converts a decoded feed document.
func (f *FeedSource) fromDoc(doc feedDoc) Batch {
	var (
		b    Batch
		cats categoryIndex
	)
	prefix := f.prefix()
	for _, country := range doc.Countries {
		for _, ambit := range country.Ambits {
			if !slices.Contains(f.Feed.WhitelistedAmbits, ambit.Name) {
				f.Log.WithField("ambit", ambit.Name).Debug("ambit not allow-listed")
				continue
			}
			catID := normalizeID(prefix + "_" + ambit.Name)
			found := 0
			for _, ch := range ambit.Channels {
				direct := f.playable(ch)
				if direct == "" {
					continue
				}
				found++
				b.Live = append(b.Live, catalog.LiveStream{StreamBase: catalog.StreamBase{
					Name:         strings.TrimSpace(ch.Name),
					StreamType:   catalog.TypeLive,
					StreamIcon:   ch.Logo,
					EPGChannelID: ch.EPGID,
					Added:        now().Unix(),
					CategoryID:   catID,
					DirectSource: direct,
				}})
			}
			if found > 0 {
				cats.add(catID, strings.ToUpper(prefix)+" | "+ambit.Name)
			}
		}
	}
	b.LiveCategories = cats.list
	return b
}

// playable returns the first option URL in a recognized format, or "".
func (f *FeedSource) playable(ch feedChannel) string {
	formats := f.Feed.Formats
	if len(formats) == 0 {
		formats = []string{"m3u8"}
	}
	for _, opt := range ch.Options {
		if opt.URL != "" && slices.Contains(formats, opt.Format) {
			return opt.URL
		}
	}
	return ""
}

func (f *FeedSource) prefix() string {
	if f.Feed.Prefix == "" {
		return "tdtch"
	}
	return f.Feed.Prefix
}
