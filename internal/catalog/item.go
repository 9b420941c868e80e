// Package catalog searches a STAC API for radar acquisitions and groups the
// results into observation dates.
package catalog

import (
	"encoding/json"
	"time"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Item is a STAC item as returned by /search.
type Item struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection,omitempty"`
	BBox       []float64        `json:"bbox,omitempty"`
	Geometry   json.RawMessage  `json:"geometry,omitempty"`
	Properties Properties       `json:"properties"`
	Assets     map[string]Asset `json:"assets"`
}

// Properties holds the item metadata the pipeline reads.
type Properties struct {
	Datetime       *time.Time `json:"datetime"`
	StartDatetime  *time.Time `json:"start_datetime,omitempty"`
	Platform       string     `json:"platform,omitempty"`
	InstrumentMode string     `json:"sar:instrument_mode,omitempty"`
	Polarizations  []string   `json:"sar:polarizations,omitempty"`
	OrbitState     string     `json:"sat:orbit_state,omitempty"`
	RelativeOrbit  int        `json:"sat:relative_orbit,omitempty"`
}

// Asset is one downloadable file of an item.
type Asset struct {
	Href  string   `json:"href"`
	Type  string   `json:"type,omitempty"`
	Title string   `json:"title,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Link is a STAC hypermedia link. Search pagination uses rel=next, which may
// carry a POST body to send (merged into the previous body when Merge is set).
type Link struct {
	Rel    string          `json:"rel"`
	Href   string          `json:"href"`
	Type   string          `json:"type,omitempty"`
	Method string          `json:"method,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Merge  bool            `json:"merge,omitempty"`
}

// ItemCollection is one page of search results.
type ItemCollection struct {
	Type          string `json:"type"`
	Features      []Item `json:"features"`
	Links         []Link `json:"links,omitempty"`
	NumberMatched int    `json:"numberMatched,omitempty"`
}

// Next returns the rel=next link, if any.
func (c ItemCollection) Next() (Link, bool) {
	for _, l := range c.Links {
		if l.Rel == "next" {
			return l, true
		}
	}
	return Link{}, false
}

// Time is the acquisition time: datetime, or start_datetime for ranged items.
func (it Item) Time() time.Time {
	if it.Properties.Datetime != nil {
		return it.Properties.Datetime.UTC()
	}
	if it.Properties.StartDatetime != nil {
		return it.Properties.StartDatetime.UTC()
	}
	return time.Time{}
}

// CenterLon returns the item footprint's central longitude, from bbox or
// else the geometry. ok is false when neither is usable.
func (it Item) CenterLon() (lon float64, ok bool) {
	if len(it.BBox) == 4 {
		return (it.BBox[0] + it.BBox[2]) / 2, true
	}
	if len(it.BBox) == 6 {
		return (it.BBox[0] + it.BBox[3]) / 2, true
	}
	if len(it.Geometry) == 0 {
		return 0, false
	}
	var g geom.T
	if err := geojson.Unmarshal(it.Geometry, &g); err != nil || g == nil || len(g.FlatCoords()) == 0 {
		return 0, false
	}
	b := g.Bounds()
	return (b.Min(0) + b.Max(0)) / 2, true
}

// Href returns the href of the named asset.
func (it Item) Href(asset string) (string, bool) {
	a, ok := it.Assets[asset]
	if !ok || a.Href == "" {
		return "", false
	}
	return a.Href, true
}
