// Package filter applies the operator's category rules to adapter output:
// custom categories are declared first, upstream categories pass the
// whitelist/blacklist, and name-prefix overrides move streams into custom
// categories before stream membership is decided. Apply is idempotent.
package filter

import (
	"strings"

	"github.com/samber/lo"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/source"
)

// CustomCategory is a synthetic category. A stream whose name starts with any
// Match string is moved into it. Name is the display name; it defaults to ID.
type CustomCategory struct {
	ID    string
	Name  string
	Match []string
}

func (c CustomCategory) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Rules are the per-type filter settings.
type Rules struct {
	Whitelist         []string
	BlacklistPrefixes []string
	Custom            []CustomCategory
}

// FromConfig returns the live and movie rules. Both share whitelist and
// blacklist; custom categories are per type.
func FromConfig(cfg *config.Config) (live, movie Rules) {
	conv := func(cc config.CustomCategories) []CustomCategory {
		return lo.Map(cc, func(c config.CustomCategory, _ int) CustomCategory {
			return CustomCategory{ID: c.Name, Name: c.Name, Match: c.Match}
		})
	}
	live = Rules{
		Whitelist:         cfg.WhitelistedGroups,
		BlacklistPrefixes: cfg.BlacklistedGroupPrefixes,
		Custom:            conv(cfg.CustomLiveCategories),
	}
	movie = Rules{
		Whitelist:         cfg.WhitelistedGroups,
		BlacklistPrefixes: cfg.BlacklistedGroupPrefixes,
		Custom:            conv(cfg.CustomMovieCategories),
	}
	return live, movie
}

// Bind returns a copy of r whose custom categories take the id of the first
// existing category with the same name. A catalog built from one source
// renumbers custom categories, so later imports must target those ids.
func (r Rules) Bind(existing []catalog.Category) Rules {
	if len(r.Custom) == 0 {
		return r
	}
	custom := make([]CustomCategory, len(r.Custom))
	for i, c := range r.Custom {
		if cat, ok := lo.Find(existing, func(e catalog.Category) bool {
			return e.CategoryName == c.displayName()
		}); ok {
			c.Name = c.displayName()
			c.ID = cat.CategoryID
		}
		custom[i] = c
	}
	r.Custom = custom
	return r
}

// Keep reports whether an upstream category name passes: whitelisted names
// always pass, otherwise any matching blacklist prefix rejects.
func (r Rules) Keep(name string) bool {
	if lo.Contains(r.Whitelist, name) {
		return true
	}
	return !lo.ContainsBy(r.BlacklistPrefixes, func(p string) bool {
		return p != "" && strings.HasPrefix(name, p)
	})
}

// Override returns the custom category a stream name is forced into.
// The first matching rule wins.
func (r Rules) Override(name string) (string, bool) {
	for _, c := range r.Custom {
		for _, m := range c.Match {
			if m != "" && strings.HasPrefix(name, m) {
				return c.ID, true
			}
		}
	}
	return "", false
}

// Apply filters one partition. Inputs are not modified.
func Apply[T any, P catalog.EntryPtr[T]](cats []catalog.Category, streams []T, r Rules) ([]catalog.Category, []T) {
	kept := make(map[string]bool, len(cats)+len(r.Custom))
	outCats := make([]catalog.Category, 0, len(cats)+len(r.Custom))

	// Custom categories exist even when nothing matches them.
	for _, c := range r.Custom {
		if c.ID == "" || kept[c.ID] {
			continue
		}
		kept[c.ID] = true
		outCats = append(outCats, catalog.Category{CategoryID: c.ID, CategoryName: c.displayName()})
	}
	for _, c := range cats {
		if kept[c.CategoryID] || !r.Keep(c.CategoryName) {
			continue
		}
		kept[c.CategoryID] = true
		outCats = append(outCats, c)
	}

	outStreams := make([]T, 0, len(streams))
	for _, s := range streams {
		b := P(&s).Base()
		if id, ok := r.Override(b.Name); ok {
			b.CategoryID = id
		}
		if kept[b.CategoryID] {
			outStreams = append(outStreams, s)
		}
	}
	return outCats, outStreams
}

// ApplyBatch filters both partitions of a batch.
func ApplyBatch(b source.Batch, live, movie Rules) source.Batch {
	out := source.Batch{Source: b.Source}
	out.LiveCategories, out.Live = Apply(b.LiveCategories, b.Live, live)
	out.MovieCategories, out.Movies = Apply(b.MovieCategories, b.Movies, movie)
	return out
}
