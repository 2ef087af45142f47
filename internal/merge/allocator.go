package merge

import (
	"github.com/plextuner/iptv-catalog/internal/catalog"
)

// Marks are the highest stream_id and num already handed out per type.
type Marks struct {
	LiveID   int
	LiveNum  int
	MovieID  int
	MovieNum int
}

// MarksOf returns the maxima present in c.
func MarksOf(c *catalog.Catalog) Marks {
	var m Marks
	m.LiveID, m.LiveNum = catalog.MaxIDs(c.LiveStreams)
	m.MovieID, m.MovieNum = catalog.MaxIDs(c.MovieStreams)
	return m
}

// Max returns the field-wise maximum of m and o.
func (m Marks) Max(o Marks) Marks {
	return Marks{
		LiveID:   max(m.LiveID, o.LiveID),
		LiveNum:  max(m.LiveNum, o.LiveNum),
		MovieID:  max(m.MovieID, o.MovieID),
		MovieNum: max(m.MovieNum, o.MovieNum),
	}
}

type counter struct{ id, num int }

// Allocator hands out stream ids and display numbers, one monotonically
// increasing counter pair per type. Values are never reused.
// Not safe for concurrent use; a pipeline run owns its allocator.
type Allocator struct {
	live, movie counter
}

// NewAllocator starts every counter one past its mark. The zero Marks gives a
// fresh build numbered from 1.
func NewAllocator(m Marks) *Allocator {
	return &Allocator{
		live:  counter{id: m.LiveID, num: m.LiveNum},
		movie: counter{id: m.MovieID, num: m.MovieNum},
	}
}

// Next returns the next (stream_id, num) for typ.
func (a *Allocator) Next(typ catalog.StreamType) (id, num int) {
	c := &a.live
	if typ == catalog.TypeMovie {
		c = &a.movie
	}
	c.id++
	c.num++
	return c.id, c.num
}

// High returns the last values handed out (or the seed marks).
func (a *Allocator) High() Marks {
	return Marks{LiveID: a.live.id, LiveNum: a.live.num, MovieID: a.movie.id, MovieNum: a.movie.num}
}

// assign gives every entry a fresh id and num, in slice order.
func assign[T any, P catalog.EntryPtr[T]](streams []T, typ catalog.StreamType, a *Allocator) {
	for i := range streams {
		b := P(&streams[i]).Base()
		b.StreamType = typ
		b.StreamID, b.Num = a.Next(typ)
	}
}
