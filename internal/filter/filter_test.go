package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plextuner/iptv-catalog/internal/catalog"
	"github.com/plextuner/iptv-catalog/internal/config"
	"github.com/plextuner/iptv-catalog/internal/source"
)

func cat(id, name string) catalog.Category {
	return catalog.Category{CategoryID: id, CategoryName: name}
}

func live(id int, name, category string) catalog.LiveStream {
	return catalog.LiveStream{StreamBase: catalog.StreamBase{
		StreamID: id, Name: name, CategoryID: category, StreamType: catalog.TypeLive,
	}}
}

func names(cats []catalog.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.CategoryName
	}
	return out
}

func TestApply_whitelistBeatsBlacklist(t *testing.T) {
	cats := []catalog.Category{cat("1", "Sports"), cat("2", "XXX Movies"), cat("3", "News")}
	r := Rules{Whitelist: []string{"Sports"}, BlacklistPrefixes: []string{"XXX"}}
	got, _ := Apply(cats, []catalog.LiveStream(nil), r)
	assert.Equal(t, []string{"Sports", "News"}, names(got))

	r = Rules{Whitelist: []string{"XXX Movies"}, BlacklistPrefixes: []string{"XXX"}}
	got, _ = Apply(cats, []catalog.LiveStream(nil), r)
	assert.Equal(t, []string{"Sports", "XXX Movies", "News"}, names(got))
}

func TestApply_streamsFollowCategories(t *testing.T) {
	cats := []catalog.Category{cat("1", "News"), cat("2", "XXX Adult")}
	streams := []catalog.LiveStream{live(1, "CNN", "1"), live(2, "Late", "2"), live(3, "Orphan", "99")}
	_, got := Apply(cats, streams, Rules{BlacklistPrefixes: []string{"XXX"}})
	require.Len(t, got, 1)
	assert.Equal(t, "CNN", got[0].Name)
}

func TestApply_customCategoriesPredeclared(t *testing.T) {
	r := Rules{Custom: []CustomCategory{{ID: "Kids", Match: []string{"Disney"}}}}
	got, _ := Apply([]catalog.Category{cat("1", "News")}, []catalog.LiveStream(nil), r)
	assert.Equal(t, []catalog.Category{cat("Kids", "Kids"), cat("1", "News")}, got)
}

func TestApply_overrideRescuesBlacklisted(t *testing.T) {
	cats := []catalog.Category{cat("1", "XXX Mixed"), cat("2", "News")}
	streams := []catalog.LiveStream{
		live(1, "Disney Junior", "1"),
		live(2, "Other XXX", "1"),
		live(3, "Disney News", "2"),
	}
	r := Rules{
		BlacklistPrefixes: []string{"XXX"},
		Custom: []CustomCategory{
			{ID: "Kids", Match: []string{"Disney"}},
			{ID: "Disney Extra", Match: []string{"Disney"}},
		},
	}
	_, got := Apply(cats, streams, r)
	require.Len(t, got, 2)
	assert.Equal(t, "Kids", got[0].CategoryID, "override must win over the blacklist")
	assert.Equal(t, "Kids", got[1].CategoryID, "first matching rule wins")
	// Inputs untouched.
	assert.Equal(t, "1", streams[0].CategoryID)
}

func TestApply_idempotent(t *testing.T) {
	cats := []catalog.Category{cat("1", "Sports"), cat("2", "XXX Movies"), cat("3", "News"), cat("4", "ADULT")}
	streams := []catalog.LiveStream{
		live(1, "ESPN", "1"), live(2, "Blue", "2"), live(3, "BBC One", "3"),
		live(4, "CNN Intl", "4"), live(5, "Disney", "2"),
	}
	r := Rules{
		Whitelist:         []string{"Sports"},
		BlacklistPrefixes: []string{"XXX", "ADULT"},
		Custom: []CustomCategory{
			{ID: "ADULT kids", Match: []string{"Disney"}},
			{ID: "World", Match: []string{"CNN", "BBC"}},
		},
	}
	c1, s1 := Apply(cats, streams, r)
	c2, s2 := Apply(c1, s1, r)
	assert.Equal(t, c1, c2)
	assert.Equal(t, s1, s2)

	ids := make([]string, len(s1))
	for i, s := range s1 {
		ids[i] = s.CategoryID
	}
	assert.Equal(t, []string{"1", "World", "World", "ADULT kids"}, ids)
}

func TestApplyBatch_moviesUseMovieRules(t *testing.T) {
	b := source.Batch{
		Source:          "m3u1",
		LiveCategories:  []catalog.Category{cat("News", "News")},
		MovieCategories: []catalog.Category{cat("Drama", "Drama")},
		Movies: []catalog.MovieStream{{StreamBase: catalog.StreamBase{
			StreamID: 1, Name: "The Thing", CategoryID: "Drama", StreamType: catalog.TypeMovie,
		}}},
	}
	liveRules := Rules{Custom: []CustomCategory{{ID: "Live Only", Match: []string{"The"}}}}
	movieRules := Rules{Custom: []CustomCategory{{ID: "Classics", Match: []string{"The "}}}}
	out := ApplyBatch(b, liveRules, movieRules)
	assert.Equal(t, "m3u1", out.Source)
	assert.Equal(t, "Classics", out.Movies[0].CategoryID)
	assert.Equal(t, []string{"Live Only", "News"}, names(out.LiveCategories))
}

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		WhitelistedGroups:        []string{"Sports"},
		BlacklistedGroupPrefixes: []string{"XXX"},
		CustomLiveCategories:     config.CustomCategories{{Name: "World", Match: []string{"BBC"}}},
	}
	l, m := FromConfig(cfg)
	assert.Equal(t, []CustomCategory{{ID: "World", Name: "World", Match: []string{"BBC"}}}, l.Custom)
	assert.Empty(t, m.Custom)
	assert.Equal(t, []string{"XXX"}, m.BlacklistPrefixes)
}

func TestBind_reusesRenumberedCustomCategory(t *testing.T) {
	r := Rules{Custom: []CustomCategory{
		{ID: "Kids", Name: "Kids", Match: []string{"Baby"}},
		{ID: "Late", Name: "Late", Match: []string{"Night"}},
	}}
	bound := r.Bind([]catalog.Category{cat("1", "Kids"), cat("2", "News")})

	assert.Equal(t, "1", bound.Custom[0].ID)
	assert.Equal(t, "Late", bound.Custom[1].ID)
	assert.Equal(t, "Kids", r.Custom[0].ID, "input rules must not change")

	cats, streams := Apply([]catalog.Category{cat("1", "Kids"), cat("7", "Misc")},
		[]catalog.LiveStream{live(1, "Baby Club", "7")}, bound)
	assert.Equal(t, []string{"Kids", "Late", "Misc"}, names(cats))
	require.Len(t, streams, 1)
	assert.Equal(t, "1", streams[0].CategoryID)
}
