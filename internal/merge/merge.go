// Package merge reconciles filtered source batches into one catalog with a
// collision-free id namespace, and appends incremental batches to an
// existing catalog without reusing ids.
package merge

import (
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/source"
)

// Report summarizes a merge or append.
type Report struct {
	Live       int // entries admitted
	Movies     int
	Categories int // categories added
	Invalid    int // entries dropped for referencing an undeclared category
	Duplicates int // entries skipped as already present (append only)
}

// Custom lists the custom category ids per type. They are shared by every
// source in a multi-source merge instead of being qualified.
type Custom struct {
	Live  []string
	Movie []string
}

// Merge builds a catalog from batches. Batches are processed in source-name
// order so the result does not depend on fetch completion order.
//
// Category ids are remapped in two passes per type: first every category gets
// its new id (a single batch is numbered "1".."n"; several batches qualify
// each id as "<source>_<id>"), then every stream's category id is rewritten
// through the finished map. Streams whose category is not in the map are
// dropped and counted in Report.Invalid.
func Merge(batches []source.Batch, alloc *Allocator, custom Custom, log logrus.FieldLogger) (*catalog.Catalog, Report) {
	sorted := slices.Clone(batches)
	slices.SortStableFunc(sorted, func(a, b source.Batch) int { return strings.Compare(a.Source, b.Source) })
	sorted = lo.Filter(sorted, func(b source.Batch, _ int) bool {
		return len(b.LiveCategories)+len(b.MovieCategories)+len(b.Live)+len(b.Movies) > 0
	})

	c := catalog.New()
	var rep Report
	multi := len(sorted) > 1

	liveRemap := newRemapper(multi, custom.Live)
	movieRemap := newRemapper(multi, custom.Movie)
	for _, b := range sorted {
		liveRemap.declare(b.Source, b.LiveCategories)
		movieRemap.declare(b.Source, b.MovieCategories)
	}
	c.LiveCategories = liveRemap.cats
	c.MovieCategories = movieRemap.cats
	rep.Categories = len(c.LiveCategories) + len(c.MovieCategories)

	for _, b := range sorted {
		live, bad := rewrite(b.Live, b.Source, liveRemap)
		rep.Invalid += bad
		movies, bad := rewrite(b.Movies, b.Source, movieRemap)
		rep.Invalid += bad
		c.LiveStreams = append(c.LiveStreams, live...)
		c.MovieStreams = append(c.MovieStreams, movies...)
	}
	assign(c.LiveStreams, catalog.TypeLive, alloc)
	assign(c.MovieStreams, catalog.TypeMovie, alloc)
	rep.Live, rep.Movies = len(c.LiveStreams), len(c.MovieStreams)

	if rep.Invalid > 0 {
		log.WithField("dropped", rep.Invalid).Warn("entries referenced undeclared categories")
	}
	return c, rep
}

// remapper is pass 1 of the category remap for one type.
type remapper struct {
	multi  bool
	custom map[string]bool
	ids    map[[2]string]string // (source, old id) -> new id
	seen   map[string]bool      // new ids already declared
	cats   []catalog.Category
}

func newRemapper(multi bool, custom []string) *remapper {
	return &remapper{
		multi:  multi,
		custom: lo.SliceToMap(custom, func(id string) (string, bool) { return id, true }),
		ids:    map[[2]string]string{},
		seen:   map[string]bool{},
		cats:   []catalog.Category{},
	}
}

func (r *remapper) declare(src string, cats []catalog.Category) {
	for _, c := range cats {
		key := [2]string{src, c.CategoryID}
		if _, ok := r.ids[key]; ok {
			continue
		}
		var id string
		switch {
		case !r.multi:
			id = strconv.Itoa(len(r.cats) + 1)
		case r.custom[c.CategoryID]:
			id = c.CategoryID
		default:
			id = r.unique(src + "_" + c.CategoryID)
		}
		r.ids[key] = id
		if r.seen[id] {
			continue
		}
		r.seen[id] = true
		c.CategoryID = id
		r.cats = append(r.cats, c)
	}
}

// unique suffixes a qualified id until it clashes with neither a declared
// category nor a custom one. Source "a" category "b_c" and source "a_b"
// category "c" both qualify to "a_b_c".
func (r *remapper) unique(id string) string {
	out := id
	for n := 2; r.seen[out] || r.custom[out]; n++ {
		out = id + "_" + strconv.Itoa(n)
	}
	return out
}

func (r *remapper) lookup(src, old string) (string, bool) {
	id, ok := r.ids[[2]string{src, old}]
	return id, ok
}

// rewrite is pass 2: copies streams with their category id remapped.
func rewrite[T any, P catalog.EntryPtr[T]](streams []T, src string, r *remapper) (out []T, invalid int) {
	out = make([]T, 0, len(streams))
	for _, s := range streams {
		b := P(&s).Base()
		id, ok := r.lookup(src, b.CategoryID)
		if !ok {
			invalid++
			continue
		}
		b.CategoryID = id
		out = append(out, s)
	}
	return out, invalid
}

// AppendOptions tunes an incremental import.
type AppendOptions struct {
	// PrependCategories inserts new categories ahead of existing ones so clients list them first.
	PrependCategories bool
}

// Append adds a filtered batch to c in place. Categories whose id already
// exists are not duplicated. An entry with the same name as an existing
// entry in the same category is skipped. Every admitted entry gets fresh
// ids from alloc.
func Append(c *catalog.Catalog, b source.Batch, alloc *Allocator, opts AppendOptions) Report {
	var rep Report
	var added int
	c.LiveCategories, added = addCategories(c.LiveCategories, b.LiveCategories, opts.PrependCategories)
	rep.Categories += added
	c.MovieCategories, added = addCategories(c.MovieCategories, b.MovieCategories, opts.PrependCategories)
	rep.Categories += added

	c.LiveStreams, rep.Live = appendStreams(c.LiveStreams, b.Live, c.LiveCategories, catalog.TypeLive, alloc, &rep)
	c.MovieStreams, rep.Movies = appendStreams(c.MovieStreams, b.Movies, c.MovieCategories, catalog.TypeMovie, alloc, &rep)
	return rep
}

func addCategories(have, add []catalog.Category, prepend bool) ([]catalog.Category, int) {
	ids := lo.SliceToMap(have, func(c catalog.Category) (string, bool) { return c.CategoryID, true })
	var fresh []catalog.Category
	for _, c := range add {
		if ids[c.CategoryID] {
			continue
		}
		ids[c.CategoryID] = true
		fresh = append(fresh, c)
	}
	if prepend {
		return append(fresh, have...), len(fresh)
	}
	return append(have, fresh...), len(fresh)
}

func appendStreams[T any, P catalog.EntryPtr[T]](have, add []T, cats []catalog.Category, typ catalog.StreamType, alloc *Allocator, rep *Report) ([]T, int) {
	declared := lo.SliceToMap(cats, func(c catalog.Category) (string, bool) { return c.CategoryID, true })
	present := make(map[[2]string]bool, len(have))
	for i := range have {
		b := P(&have[i]).Base()
		present[[2]string{b.Name, b.CategoryID}] = true
	}
	admitted := 0
	for _, s := range add {
		b := P(&s).Base()
		if !declared[b.CategoryID] {
			rep.Invalid++
			continue
		}
		key := [2]string{b.Name, b.CategoryID}
		if present[key] {
			rep.Duplicates++
			continue
		}
		present[key] = true
		b.StreamType = typ
		b.StreamID, b.Num = alloc.Next(typ)
		have = append(have, s)
		admitted++
	}
	return have, admitted
}
