// Package pipeline runs the offline catalog jobs: a full build from every
// configured upstream and the incremental feed and registry imports.
//
// Runs are one-shot and must not overlap against the same catalog file.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/filter"
	"github.com/plextuner/iptv-catalog/internal/ledger"
	"github.com/plextuner/iptv-catalog/internal/logo"
	"github.com/plextuner/iptv-catalog/internal/merge"
	"github.com/plextuner/iptv-catalog/internal/metrics"
	"github.com/plextuner/iptv-catalog/internal/source"
)

// Run modes, used as ledger and metrics labels.
const (
	ModeBuild          = "build"
	ModeImportFeed     = "import-feed"
	ModeImportRegistry = "import-registry"
)

var (
	// ErrNoCatalog is returned by imports when there is no persisted catalog to append to.
	ErrNoCatalog = errors.New("no persisted catalog; run build first")
	// ErrNoMediaBase is returned by a registry import without a media base URL.
	ErrNoMediaBase = errors.New("registry media_base_url not configured")
)

// Pipeline wires config to the sources, filter, merger, logo provider,
// catalog file and ledger. Logos and Ledger are optional.
type Pipeline struct {
	Config *config.Config
	Client *http.Client
	Logos  logo.Resolver
	Ledger *ledger.Ledger
	Log    logrus.FieldLogger
}

// Sources returns the upstreams a full build reads, in config order.
func (p *Pipeline) Sources() []source.Source {
	var out []source.Source
	for _, ep := range p.Config.Endpoints {
		out = append(out, source.NewPanelSource(ep, p.Client, p.Log))
	}
	for _, pl := range p.Config.Playlists {
		out = append(out, &source.PlaylistSource{
			Label:    pl.Name,
			Location: pl.URL,
			Client:   p.Client,
			Log:      p.Log.WithField("source", pl.Name),
		})
	}
	if p.Config.Feed != nil {
		out = append(out, p.feedSource())
	}
	return out
}

func (p *Pipeline) feedSource() *source.FeedSource {
	feed := config.Feed{Prefix: "tdtch", Formats: []string{"m3u8"}}
	if p.Config.Feed != nil {
		feed = *p.Config.Feed
	}
	return &source.FeedSource{Feed: feed, Client: p.Client, Log: p.Log.WithField("source", feed.Prefix)}
}

// Build fetches every source, filters and merges them into a new catalog with
// ids numbered from 1, resolves logos and persists the result.
func (p *Pipeline) Build(ctx context.Context) (c *catalog.Catalog, err error) {
	defer func() { metrics.RecordPipelineRun(ModeBuild, err == nil) }()
	if err := p.Config.RequireSources(); err != nil {
		return nil, err
	}

	batches := source.FetchAll(ctx, p.Sources(), p.Log)
	liveRules, movieRules := filter.FromConfig(p.Config)
	batches = lo.Map(batches, func(b source.Batch, _ int) source.Batch {
		return filter.ApplyBatch(b, liveRules, movieRules)
	})

	alloc := merge.NewAllocator(merge.Marks{})
	c, rep := merge.Merge(batches, alloc, customIDs(liveRules, movieRules), p.Log)
	if p.Logos != nil {
		logo.ApplyLive(ctx, p.Logos, c.LiveStreams, p.Config.BaseURL)
	}
	if err := c.Save(p.Config.CatalogPath); err != nil {
		return nil, err
	}
	p.Log.WithFields(logrus.Fields{
		"live":       rep.Live,
		"movies":     rep.Movies,
		"categories": rep.Categories,
		"invalid":    rep.Invalid,
		"path":       p.Config.CatalogPath,
	}).Info("catalog built")

	if p.Ledger != nil {
		run := ledger.Run{Mode: ModeBuild, Source: "all", Live: rep.Live, Movies: rep.Movies, Marks: alloc.High()}
		if err := p.Ledger.Reset(ctx, run); err != nil {
			return c, fmt.Errorf("ledger: %w", err)
		}
	}
	return c, nil
}

// ImportFeed appends the static feed's channels to the persisted catalog.
func (p *Pipeline) ImportFeed(ctx context.Context) (c *catalog.Catalog, rep merge.Report, err error) {
	defer func() { metrics.RecordPipelineRun(ModeImportFeed, err == nil) }()
	c, err = p.load()
	if err != nil {
		return nil, rep, err
	}
	fs := p.feedSource()
	b := fs.Fetch(ctx)
	b.Source = fs.Name()
	rep, err = p.appendBatch(ctx, ModeImportFeed, c, b, merge.AppendOptions{})
	return c, rep, err
}

// ImportRegistry appends the manual registry's entries to the persisted
// catalog. New registry categories are listed ahead of existing ones.
func (p *Pipeline) ImportRegistry(ctx context.Context) (c *catalog.Catalog, rep merge.Report, err error) {
	defer func() { metrics.RecordPipelineRun(ModeImportRegistry, err == nil) }()
	reg := p.Config.Registry
	if reg.MediaBaseURL == "" {
		return nil, rep, ErrNoMediaBase
	}
	if _, err := os.Stat(reg.File); err != nil {
		return nil, rep, fmt.Errorf("registry: %w", err)
	}
	c, err = p.load()
	if err != nil {
		return nil, rep, err
	}
	rs := &source.RegistrySource{Registry: reg, Existing: c, Log: p.Log.WithField("source", "registry")}
	b := rs.Fetch(ctx)
	b.Source = rs.Name()
	rep, err = p.appendBatch(ctx, ModeImportRegistry, c, b, merge.AppendOptions{PrependCategories: true})
	return c, rep, err
}

func (p *Pipeline) load() (*catalog.Catalog, error) {
	c, err := catalog.Load(p.Config.CatalogPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoCatalog, p.Config.CatalogPath)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", p.Config.CatalogPath, err)
	}
	return c, nil
}

// appendBatch filters b, appends it to c with ids seeded past both the
// catalog and the ledger, resolves logos for the new live entries and saves.
func (p *Pipeline) appendBatch(ctx context.Context, mode string, c *catalog.Catalog, b source.Batch, opts merge.AppendOptions) (merge.Report, error) {
	liveRules, movieRules := filter.FromConfig(p.Config)
	liveRules = liveRules.Bind(c.LiveCategories)
	movieRules = movieRules.Bind(c.MovieCategories)
	b = filter.ApplyBatch(withExisting(b, c), liveRules, movieRules)

	marks := merge.MarksOf(c)
	if p.Ledger != nil {
		lm, err := p.Ledger.Marks(ctx)
		if err != nil {
			return merge.Report{}, fmt.Errorf("ledger: %w", err)
		}
		marks = marks.Max(lm)
	}
	alloc := merge.NewAllocator(marks)

	liveBefore := len(c.LiveStreams)
	rep := merge.Append(c, b, alloc, opts)
	if p.Logos != nil && rep.Live > 0 {
		logo.ApplyLive(ctx, p.Logos, c.LiveStreams[liveBefore:], p.Config.BaseURL)
	}
	if err := c.Validate(); err != nil {
		return rep, err
	}
	if err := c.Save(p.Config.CatalogPath); err != nil {
		return rep, err
	}
	p.Log.WithFields(logrus.Fields{
		"mode":       mode,
		"live":       rep.Live,
		"movies":     rep.Movies,
		"categories": rep.Categories,
		"duplicates": rep.Duplicates,
	}).Info("import appended")

	if p.Ledger != nil {
		run := ledger.Run{Mode: mode, Source: b.Source, Live: rep.Live, Movies: rep.Movies, Marks: alloc.High()}
		if err := p.Ledger.Record(ctx, run); err != nil {
			return rep, fmt.Errorf("ledger: %w", err)
		}
	}
	return rep, nil
}

// withExisting adds c's categories after b's own, so entries that reference a
// category already in the catalog survive filtering.
func withExisting(b source.Batch, c *catalog.Catalog) source.Batch {
	b.LiveCategories = append(slices.Clone(b.LiveCategories), c.LiveCategories...)
	b.MovieCategories = append(slices.Clone(b.MovieCategories), c.MovieCategories...)
	return b
}

func customIDs(live, movie filter.Rules) merge.Custom {
	id := func(c filter.CustomCategory, _ int) string { return c.ID }
	return merge.Custom{Live: lo.Map(live.Custom, id), Movie: lo.Map(movie.Custom, id)}
}
