package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// StreamType discriminates the two stream partitions of a catalog.
type StreamType string

const (
	TypeLive  StreamType = "live"
	TypeMovie StreamType = "movie"
)

// Category is a client-visible grouping. ParentID 0 means "no parent".
type Category struct {
	CategoryID   string `json:"category_id"`
	CategoryName string `json:"category_name"`
	ParentID     int    `json:"parent_id"`
}

// StreamBase holds the fields shared by live and movie entries.
// StreamIcon is empty when no logo is known.
type StreamBase struct {
	Num          int        `json:"num"`
	Name         string     `json:"name"`
	StreamType   StreamType `json:"stream_type"`
	StreamID     int        `json:"stream_id"`
	StreamIcon   string     `json:"stream_icon"`
	EPGChannelID string     `json:"epg_channel_id,omitempty"`
	Added        int64      `json:"added"`
	CategoryID   string     `json:"category_id"`
	DirectSource string     `json:"direct_source"`
}

// LiveStream is a live channel entry.
type LiveStream struct {
	StreamBase
	TVArchive int `json:"tv_archive"`
}

// MovieStream is a VOD entry.
type MovieStream struct {
	StreamBase
	ContainerExtension string `json:"container_extension"`
}

// Base returns the shared field set. Used by code that is generic over both variants.
func (s *LiveStream) Base() *StreamBase { return &s.StreamBase }

// Base returns the shared field set.
func (s *MovieStream) Base() *StreamBase { return &s.StreamBase }

// Entry is implemented by *LiveStream and *MovieStream.
type Entry interface {
	Base() *StreamBase
}

// EntryPtr constrains a type parameter to a pointer to a catalog entry, so
// generic helpers can work on []LiveStream / []MovieStream in place.
type EntryPtr[T any] interface {
	*T
	Entry
}

// Catalog is the merged catalog: six ordered collections. The series
// collections are always present and always empty.
type Catalog struct {
	LiveCategories   []Category        `json:"live_categories"`
	LiveStreams      []LiveStream      `json:"live_streams"`
	MovieCategories  []Category        `json:"movie_categories"`
	MovieStreams     []MovieStream     `json:"movie_streams"`
	SeriesCategories []Category        `json:"series_categories"`
	SeriesStreams    []json.RawMessage `json:"series_streams"`
}

// New returns an empty catalog with every collection non-nil.
func New() *Catalog {
	c := &Catalog{}
	c.normalize()
	return c
}

func (c *Catalog) normalize() {
	if c.LiveCategories == nil {
		c.LiveCategories = []Category{}
	}
	if c.LiveStreams == nil {
		c.LiveStreams = []LiveStream{}
	}
	if c.MovieCategories == nil {
		c.MovieCategories = []Category{}
	}
	if c.MovieStreams == nil {
		c.MovieStreams = []MovieStream{}
	}
	c.SeriesCategories = []Category{}
	c.SeriesStreams = []json.RawMessage{}
}

// FindLive returns the live stream with the given id (linear scan).
func (c *Catalog) FindLive(streamID int) (*LiveStream, bool) {
	for i := range c.LiveStreams {
		if c.LiveStreams[i].StreamID == streamID {
			return &c.LiveStreams[i], true
		}
	}
	return nil, false
}

// FindMovie returns the movie with the given id (linear scan).
func (c *Catalog) FindMovie(streamID int) (*MovieStream, bool) {
	for i := range c.MovieStreams {
		if c.MovieStreams[i].StreamID == streamID {
			return &c.MovieStreams[i], true
		}
	}
	return nil, false
}

// Save writes the catalog to path as JSON using a temp-file-then-rename strategy
// so readers never see a partially-written file (atomic on most Unix filesystems).
func (c *Catalog) Save(path string) error {
	c.normalize()
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".catalog-*.json.tmp")
	if err != nil {
		return fmt.Errorf("catalog save: create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if writeErr != nil {
			return fmt.Errorf("catalog save: write: %w", writeErr)
		}
		return fmt.Errorf("catalog save: close: %w", closeErr)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog save: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog save: rename: %w", err)
	}
	return nil
}

// Load reads and validates the catalog at path. A missing file is reported with
// an error satisfying errors.Is(err, os.ErrNotExist): the caller must build.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses and validates a persisted catalog document.
func Decode(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: field %q: got JSON %s, want %s", ErrInvalid, typeErr.Field, typeErr.Value, typeErr.Type)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
