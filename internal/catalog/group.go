package catalog

import (
	"sort"
	"time"
)

// DayGroup is every item acquired on one local solar day.
type DayGroup struct {
	Day   time.Time
	Items []Item
}

// IDs returns the group's item IDs in order.
func (g DayGroup) IDs() []string {
	ids := make([]string, len(g.Items))
	for i, it := range g.Items {
		ids[i] = it.ID
	}
	return ids
}

// SolarDay shifts the UTC acquisition time by the footprint's longitude
// (15 degrees per hour) and truncates to the date. Items without a usable
// footprint fall back to the UTC date.
func SolarDay(it Item) time.Time {
	t := it.Time()
	if lon, ok := it.CenterLon(); ok {
		t = t.Add(time.Duration(lon / 15 * float64(time.Hour)))
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GroupBySolarDay buckets items by solar day. Groups are ordered by day and
// items within a group by ID so downstream mosaics are reproducible.
func GroupBySolarDay(items []Item) []DayGroup {
	byDay := make(map[time.Time][]Item)
	for _, it := range items {
		d := SolarDay(it)
		byDay[d] = append(byDay[d], it)
	}

	groups := make([]DayGroup, 0, len(byDay))
	for d, its := range byDay {
		sort.Slice(its, func(i, j int) bool { return its[i].ID < its[j].ID })
		groups = append(groups, DayGroup{Day: d, Items: its})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Day.Before(groups[j].Day) })
	return groups
}
