package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/inundation-cli/internal/raster"
)

// DateLayout is the calendar-date format used for intervals and scene IDs.
const DateLayout = "2006-01-02"

// Channel identifies a polarization.
type Channel string

const (
	VV Channel = "vv"
	VH Channel = "vh"
)

// Channels lists the polarizations every scene must carry, in processing order.
var Channels = []Channel{VV, VH}

// AOI is the area of interest: one polygon and the CRS its coordinates are in.
type AOI struct {
	Polygon *geom.Polygon
	CRS     string
}

// Bounds returns the AOI envelope in its own CRS.
func (a AOI) Bounds() raster.Bounds {
	b := a.Polygon.Bounds()
	return raster.Bounds{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Interval is a closed date range.
type Interval struct {
	Start time.Time
	End   time.Time
}

// ParseInterval parses two calendar dates (YYYY-MM-DD) into a closed
// interval covering both days entirely.
func ParseInterval(start, end string) (Interval, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Interval{}, eris.Wrapf(err, "model: parse start date %q", start)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Interval{}, eris.Wrapf(err, "model: parse end date %q", end)
	}
	iv := Interval{Start: s, End: e.Add(24*time.Hour - time.Second)}
	if iv.End.Before(iv.Start) {
		return Interval{}, eris.Errorf("model: end date %s before start date %s", end, start)
	}
	return iv, nil
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && !t.After(iv.End)
}

// STAC returns the interval as a STAC datetime range.
func (iv Interval) STAC() string {
	return fmt.Sprintf("%s/%s", iv.Start.UTC().Format(time.RFC3339), iv.End.UTC().Format(time.RFC3339))
}

// Scene is one acquisition date: a grid per channel on a shared georef.
type Scene struct {
	Time    time.Time
	Grids   map[Channel]*raster.Grid
	Georef  raster.Georef
	ItemIDs []string
}

// ID is the scene's solar-day date.
func (s Scene) ID() string {
	return s.Time.Format(DateLayout)
}

// Grid returns the grid for ch, or nil.
func (s Scene) Grid(ch Channel) *raster.Grid {
	return s.Grids[ch]
}

// Collection is a time-ordered set of co-registered scenes.
type Collection struct {
	Scenes []Scene
	Georef raster.Georef
	Rows   int
	Cols   int
}

// Validate checks that every scene carries every channel on the collection's
// grid shape, geotransform and CRS, and that scenes are in time order.
func (c Collection) Validate() error {
	if c.Rows <= 0 || c.Cols <= 0 {
		return eris.Wrapf(ErrMalformedGrid, "model: collection shape %dx%d", c.Rows, c.Cols)
	}
	for i, s := range c.Scenes {
		if !s.Georef.Equal(c.Georef) {
			return eris.Wrapf(ErrMalformedGrid, "model: scene %s georef differs from collection", s.ID())
		}
		if i > 0 && s.Time.Before(c.Scenes[i-1].Time) {
			return eris.Wrapf(ErrMalformedGrid, "model: scene %s out of time order", s.ID())
		}
		for _, ch := range Channels {
			g := s.Grids[ch]
			if g == nil {
				return eris.Wrapf(ErrMalformedGrid, "model: scene %s missing channel %s", s.ID(), ch)
			}
			if g.Rows != c.Rows || g.Cols != c.Cols || len(g.Data) != c.Rows*c.Cols {
				return eris.Wrapf(ErrMalformedGrid, "model: scene %s channel %s is %dx%d, want %dx%d",
					s.ID(), ch, g.Rows, g.Cols, c.Rows, c.Cols)
			}
		}
	}
	return nil
}
