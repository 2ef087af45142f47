// Package source adapts upstream catalogs (panel API, M3U playlist, static
// channel feed, manual asset registry) into catalog categories and entries.
//
// Adapters never fail a build for upstream problems: transport, status and
// decode errors are logged, counted, and degrade to an empty contribution.
// Entry stream ids in a Batch are upstream hints only; the merge step
// assigns the catalog's ids.
package source

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/metrics"
)

// Batch is one source's contribution, in upstream order.
type Batch struct {
	Source          string
	LiveCategories  []catalog.Category
	MovieCategories []catalog.Category
	Live            []catalog.LiveStream
	Movies          []catalog.MovieStream
}

// Empty reports whether the batch carries no entries.
func (b Batch) Empty() bool {
	return len(b.Live) == 0 && len(b.Movies) == 0
}

// Source is one upstream adapter.
type Source interface {
	Name() string
	Fetch(ctx context.Context) Batch
}

// now is swapped in tests.
var now = time.Now

// FetchAll runs every source concurrently and returns their batches in the
// order of sources. Sources do not fail, so neither does FetchAll.
func FetchAll(ctx context.Context, sources []Source, log logrus.FieldLogger) []Batch {
	out := make([]Batch, len(sources))
	var g errgroup.Group
	g.SetLimit(4)
	for i, s := range sources {
		g.Go(func() error {
			start := time.Now()
			b := s.Fetch(ctx)
			b.Source = s.Name()
			out[i] = b
			record(b)
			log.WithFields(logrus.Fields{
				"source":           s.Name(),
				"live":             len(b.Live),
				"live_categories":  len(b.LiveCategories),
				"movies":           len(b.Movies),
				"movie_categories": len(b.MovieCategories),
				"took":             time.Since(start).Round(time.Millisecond).String(),
			}).Info("source fetched")
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func record(b Batch) {
	metrics.RecordSourceItems(b.Source, string(catalog.TypeLive), len(b.Live))
	metrics.RecordSourceItems(b.Source, string(catalog.TypeMovie), len(b.Movies))
}

// categoryIndex collects categories in first-seen order.
type categoryIndex struct {
	seen map[string]bool
	list []catalog.Category
}

func (ci *categoryIndex) add(id, name string) {
	if ci.seen == nil {
		ci.seen = make(map[string]bool)
	}
	if ci.seen[id] {
		return
	}
	ci.seen[id] = true
	ci.list = append(ci.list, catalog.Category{CategoryID: id, CategoryName: name})
}

// normalizeID lower-cases s and replaces whitespace runs with "_".
func normalizeID(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), "_"))
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
