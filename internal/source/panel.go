package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/httpclient"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// Panel actions.
const (
	ActionLiveCategories   = "get_live_categories"
	ActionLiveStreams      = "get_live_streams"
	ActionVODCategories    = "get_vod_categories"
	ActionVODStreams       = "get_vod_streams"
	ActionSeriesCategories = "get_series_categories"
	ActionSeries           = "get_series"
)

// PanelSource reads a panel-style player_api.php endpoint.
type PanelSource struct {
	Endpoint config.Endpoint
	Client   *http.Client
	// Limiter paces action requests; nil means 5 per second.
	Limiter *rate.Limiter
	Log     logrus.FieldLogger
}

// NewPanelSource returns a panel adapter with the default pacing.
func NewPanelSource(ep config.Endpoint, client *http.Client, log logrus.FieldLogger) *PanelSource {
	return &PanelSource{
		Endpoint: ep,
		Client:   client,
		Limiter:  rate.NewLimiter(rate.Limit(5), 1),
		Log:      log.WithField("source", ep.Name),
	}
}

func (p *PanelSource) Name() string { return p.Endpoint.Name }

// looseID accepts a JSON number, string or null. Panels disagree on which they send.
type looseID string

func (l *looseID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*l = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseID(strings.TrimSpace(s))
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id: %w", err)
		}
		if i, err := n.Int64(); err == nil {
			*l = looseID(strconv.FormatInt(i, 10))
		} else if f, err := n.Float64(); err == nil {
			*l = looseID(strconv.FormatInt(int64(f), 10))
		} else {
			*l = looseID(n.String())
		}
	}
	return nil
}

type panelCategory struct {
	CategoryID   looseID `json:"category_id"`
	CategoryName string  `json:"category_name"`
	ParentID     looseID `json:"parent_id"`
}

type panelStream struct {
	StreamID           looseID `json:"stream_id"`
	Name               string  `json:"name"`
	StreamIcon         string  `json:"stream_icon"`
	EPGChannelID       looseID `json:"epg_channel_id"`
	Added              looseID `json:"added"`
	CategoryID         looseID `json:"category_id"`
	TVArchive          looseID `json:"tv_archive"`
	ContainerExtension string  `json:"container_extension"`
}

// Fetch issues every action concurrently. A failed action contributes an empty list.
func (p *PanelSource) Fetch(ctx context.Context) Batch {
	var (
		liveCats, vodCats         []panelCategory
		liveStreams, vodStreams   []panelStream
		seriesCats, seriesEntries []json.RawMessage
	)
	var g errgroup.Group
	g.Go(func() error { liveCats = fetchList[panelCategory](ctx, p, ActionLiveCategories); return nil })
	g.Go(func() error { liveStreams = fetchList[panelStream](ctx, p, ActionLiveStreams); return nil })
	g.Go(func() error { vodCats = fetchList[panelCategory](ctx, p, ActionVODCategories); return nil })
	g.Go(func() error { vodStreams = fetchList[panelStream](ctx, p, ActionVODStreams); return nil })
	if p.Endpoint.IncludeSeries {
		g.Go(func() error { seriesCats = fetchList[json.RawMessage](ctx, p, ActionSeriesCategories); return nil })
		g.Go(func() error { seriesEntries = fetchList[json.RawMessage](ctx, p, ActionSeries); return nil })
	}
	_ = g.Wait()
	if len(seriesCats)+len(seriesEntries) > 0 {
		p.log().WithFields(logrus.Fields{
			"series_categories": len(seriesCats),
			"series":            len(seriesEntries),
		}).Debug("series fetched and ignored")
	}

	b := Batch{
		LiveCategories:  convertCategories(liveCats),
		MovieCategories: convertCategories(vodCats),
	}
	for _, s := range liveStreams {
		if s.StreamID == "" {
			continue
		}
		b.Live = append(b.Live, catalog.LiveStream{
			StreamBase: p.base(s, catalog.TypeLive, p.liveURL(string(s.StreamID))),
			TVArchive:  atoi(string(s.TVArchive)),
		})
	}
	for _, s := range vodStreams {
		if s.StreamID == "" {
			continue
		}
		ext := strings.TrimPrefix(strings.TrimSpace(s.ContainerExtension), ".")
		if ext == "" {
			ext = "mp4"
		}
		b.Movies = append(b.Movies, catalog.MovieStream{
			StreamBase:         p.base(s, catalog.TypeMovie, p.movieURL(string(s.StreamID), ext)),
			ContainerExtension: ext,
		})
	}
	return b
}

func (p *PanelSource) base(s panelStream, typ catalog.StreamType, direct string) catalog.StreamBase {
	added := int64(atoi(string(s.Added)))
	if added <= 0 {
		added = now().Unix()
	}
	return catalog.StreamBase{
		Name:         strings.TrimSpace(s.Name),
		StreamType:   typ,
		StreamID:     atoi(string(s.StreamID)),
		StreamIcon:   strings.TrimSpace(s.StreamIcon),
		EPGChannelID: string(s.EPGChannelID),
		Added:        added,
		CategoryID:   string(s.CategoryID),
		DirectSource: direct,
	}
}

func convertCategories(in []panelCategory) []catalog.Category {
	out := make([]catalog.Category, 0, len(in))
	for _, c := range in {
		if c.CategoryID == "" {
			continue
		}
		out = append(out, catalog.Category{
			CategoryID:   string(c.CategoryID),
			CategoryName: strings.TrimSpace(c.CategoryName),
			ParentID:     atoi(string(c.ParentID)),
		})
	}
	return out
}

// liveURL is {host}/{user}/{pass}/{id}.
func (p *PanelSource) liveURL(id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", p.Endpoint.Host,
		url.PathEscape(p.Endpoint.User), url.PathEscape(p.Endpoint.Pass), url.PathEscape(id))
}

// movieURL is {host}/movie/{user}/{pass}/{id}.{ext}.
func (p *PanelSource) movieURL(id, ext string) string {
	return fmt.Sprintf("%s/movie/%s/%s/%s.%s", p.Endpoint.Host,
		url.PathEscape(p.Endpoint.User), url.PathEscape(p.Endpoint.Pass), url.PathEscape(id), url.PathEscape(ext))
}

func (p *PanelSource) actionURL(action string) string {
	q := url.Values{}
	q.Set("username", p.Endpoint.User)
	q.Set("password", p.Endpoint.Pass)
	q.Set("action", action)
	return p.Endpoint.Host + "/player_api.php?" + q.Encode()
}

// fetchList fetches one action. Any failure, including a body that is not a
// JSON array, yields nil.
func fetchList[T any](ctx context.Context, p *PanelSource, action string) []T {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			p.fail(action, err)
			return nil
		}
	}
	var out []T
	if err := httpclient.GetJSON(ctx, p.Client, p.actionURL(action), &out); err != nil {
		p.fail(action, err)
		return nil
	}
	return out
}

func (p *PanelSource) fail(action string, err error) {
	metrics.RecordSourceError(p.Name(), action)
	p.log().WithError(err).WithField("action", action).Warn("panel action failed; using empty list")
}

func (p *PanelSource) log() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}
