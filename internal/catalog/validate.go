package catalog

import (
	"errors"
	"fmt"
)

// ErrInvalid wraps every schema violation reported by Validate and Decode.
var ErrInvalid = errors.New("invalid catalog")

// Validate checks the invariants a served catalog relies on and reports the
// first violation with its collection, index and stream id.
func (c *Catalog) Validate() error {
	liveCats, err := categorySet("live_categories", c.LiveCategories)
	if err != nil {
		return err
	}
	movieCats, err := categorySet("movie_categories", c.MovieCategories)
	if err != nil {
		return err
	}
	if err := validateStreams("live_streams", TypeLive, c.LiveStreams, liveCats); err != nil {
		return err
	}
	return validateStreams("movie_streams", TypeMovie, c.MovieStreams, movieCats)
}

func categorySet(collection string, cats []Category) (map[string]bool, error) {
	set := make(map[string]bool, len(cats))
	for i, cat := range cats {
		if cat.CategoryID == "" {
			return nil, fmt.Errorf("%w: %s[%d]: empty category_id", ErrInvalid, collection, i)
		}
		if set[cat.CategoryID] {
			return nil, fmt.Errorf("%w: %s[%d]: duplicate category_id %q", ErrInvalid, collection, i, cat.CategoryID)
		}
		set[cat.CategoryID] = true
	}
	return set, nil
}

func validateStreams[T any, P EntryPtr[T]](collection string, want StreamType, streams []T, cats map[string]bool) error {
	seen := make(map[int]bool, len(streams))
	for i := range streams {
		b := P(&streams[i]).Base()
		where := fmt.Sprintf("%s[%d] (stream_id %d)", collection, i, b.StreamID)
		switch {
		case b.StreamType != want:
			return fmt.Errorf("%w: %s: stream_type %q, want %q", ErrInvalid, where, b.StreamType, want)
		case b.StreamID <= 0:
			return fmt.Errorf("%w: %s: stream_id must be positive", ErrInvalid, where)
		case seen[b.StreamID]:
			return fmt.Errorf("%w: %s: duplicate stream_id", ErrInvalid, where)
		case !cats[b.CategoryID]:
			return fmt.Errorf("%w: %s: category_id %q not declared", ErrInvalid, where, b.CategoryID)
		case b.DirectSource == "":
			return fmt.Errorf("%w: %s: empty direct_source", ErrInvalid, where)
		}
		seen[b.StreamID] = true
	}
	return nil
}

// MaxIDs returns the highest stream_id and num present in streams (0 when empty).
func MaxIDs[T any, P EntryPtr[T]](streams []T) (maxID, maxNum int) {
	for i := range streams {
		b := P(&streams[i]).Base()
		if b.StreamID > maxID {
			maxID = b.StreamID
		}
		if b.Num > maxNum {
			maxNum = b.Num
		}
	}
	return maxID, maxNum
}
