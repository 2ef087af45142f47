package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func sample() *Catalog {
	c := New()
	c.LiveCategories = []Category{{CategoryID: "1", CategoryName: "News"}}
	c.LiveStreams = []LiveStream{{StreamBase: StreamBase{
		Num: 1, Name: "News 24", StreamType: TypeLive, StreamID: 1,
		CategoryID: "1", DirectSource: "http://up/u/p/55",
	}}}
	c.MovieCategories = []Category{{CategoryID: "1", CategoryName: "Drama"}}
	c.MovieStreams = []MovieStream{{StreamBase: StreamBase{
		Num: 1, Name: "Film", StreamType: TypeMovie, StreamID: 7,
		CategoryID: "1", DirectSource: "http://up/movie/u/p/9.mkv",
	}, ContainerExtension: "mkv"}}
	return c
}

func TestSaveLoad_roundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	if err := sample().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.LiveStreams) != 1 || c.LiveStreams[0].Name != "News 24" || c.LiveStreams[0].StreamType != TypeLive {
		t.Errorf("live: %+v", c.LiveStreams)
	}
	if len(c.MovieStreams) != 1 || c.MovieStreams[0].ContainerExtension != "mkv" {
		t.Errorf("movies: %+v", c.MovieStreams)
	}
	if c.SeriesStreams == nil || len(c.SeriesStreams) != 0 || c.SeriesCategories == nil {
		t.Errorf("series collections must be present and empty")
	}
}

func TestSave_seriesSerializedAsEmptyArrays(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	c := &Catalog{}
	if err := c.Save(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"series_streams": []`, `"series_categories": []`, `"live_streams": []`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("saved document missing %s", key)
		}
	}
}

func TestSave_atomic_noPartialFile(t *testing.T) {
	// After a successful save, no temp files remain in the directory.
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	if err := sample().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "catalog.json" {
			t.Errorf("unexpected file left in dir: %s", e.Name())
		}
	}
}

func TestSave_permissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	if err := sample().Save(path); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("perm = %o, want 600", perm)
	}
}

func TestLoad_missingFileMeansBuild(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestDecode_rejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "wrong type",
			doc:  `{"live_streams":[{"stream_id":"abc"}]}`,
			want: "stream_id",
		},
		{
			name: "undeclared category",
			doc: `{"live_categories":[{"category_id":"1","category_name":"A"}],
				"live_streams":[{"stream_id":3,"stream_type":"live","category_id":"9","direct_source":"http://x"}]}`,
			want: `live_streams[0] (stream_id 3): category_id "9" not declared`,
		},
		{
			name: "partition mismatch",
			doc: `{"movie_categories":[{"category_id":"1","category_name":"A"}],
				"movie_streams":[{"stream_id":3,"stream_type":"live","category_id":"1","direct_source":"http://x"}]}`,
			want: `stream_type "live", want "movie"`,
		},
		{
			name: "duplicate id",
			doc: `{"movie_categories":[{"category_id":"1","category_name":"A"}],
				"movie_streams":[
					{"stream_id":3,"stream_type":"movie","category_id":"1","direct_source":"http://x"},
					{"stream_id":3,"stream_type":"movie","category_id":"1","direct_source":"http://y"}]}`,
			want: "movie_streams[1] (stream_id 3): duplicate stream_id",
		},
		{
			name: "missing direct source",
			doc: `{"live_categories":[{"category_id":"1","category_name":"A"}],
				"live_streams":[{"stream_id":3,"stream_type":"live","category_id":"1"}]}`,
			want: "empty direct_source",
		},
		{
			name: "not json",
			doc:  `{"live_streams": [`,
			want: "invalid catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.doc))
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDecode_unusedCategoryIsValid(t *testing.T) {
	doc := `{"live_categories":[{"category_id":"Sports HD","category_name":"Sports HD"}],"live_streams":[]}`
	if _, err := Decode([]byte(doc)); err != nil {
		t.Fatalf("forward-declared category rejected: %v", err)
	}
}

func TestFind(t *testing.T) {
	c := sample()
	if m, ok := c.FindMovie(7); !ok || m.Name != "Film" {
		t.Errorf("FindMovie(7) = %+v, %v", m, ok)
	}
	if _, ok := c.FindMovie(1); ok {
		t.Error("FindMovie(1) must miss: live and movie ids are separate partitions")
	}
	if l, ok := c.FindLive(1); !ok || l.Name != "News 24" {
		t.Errorf("FindLive(1) = %+v, %v", l, ok)
	}
}

func TestMaxIDs(t *testing.T) {
	streams := []MovieStream{
		{StreamBase: StreamBase{StreamID: 100, Num: 40}},
		{StreamBase: StreamBase{StreamID: 12, Num: 50}},
	}
	id, num := MaxIDs(streams)
	if id != 100 || num != 50 {
		t.Errorf("MaxIDs = %d, %d; want 100, 50", id, num)
	}
	id, num = MaxIDs([]LiveStream(nil))
	if id != 0 || num != 0 {
		t.Errorf("MaxIDs(empty) = %d, %d", id, num)
	}
}
