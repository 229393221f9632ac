package schedule

import (
	"encoding/json"
	"sort"
	"time"

	"weeklycal/internal/model"
)

// Occurrence is one concrete instance of an event with its display fields
// resolved for the chosen language.
type Occurrence struct {
	// ID is the event's index in the source document.
	ID int `json:"id"`

	model.Info
	Platforms []string `json:"platforms,omitempty"`

	// BaseName is the unlocalized event-level name.
	BaseName *string `json:"baseName,omitempty"`

	// At is the occurrence start in the display zone.
	At  time.Time    `json:"at"`
	Day time.Weekday `json:"day"`

	Canceled bool `json:"canceled,omitempty"`
	// Confirmed is false only when the occurrence was explicitly left off
	// the event's confirmed list.
	Confirmed bool `json:"confirmed"`
}

// Days holds the occurrences of one time slot, indexed by weekday.
type Days [7][]Occurrence

// Count returns the number of occurrences across all weekdays.
func (d *Days) Count() int {
	n := 0
	for _, occ := range d {
		n += len(occ)
	}
	return n
}

func (d Days) MarshalJSON() ([]byte, error) {
	list := func(wd time.Weekday) []Occurrence {
		if d[wd] == nil {
			return []Occurrence{}
		}
		return d[wd]
	}
	return json.Marshal(struct {
		Sunday    []Occurrence `json:"sunday"`
		Monday    []Occurrence `json:"monday"`
		Tuesday   []Occurrence `json:"tuesday"`
		Wednesday []Occurrence `json:"wednesday"`
		Thursday  []Occurrence `json:"thursday"`
		Friday    []Occurrence `json:"friday"`
		Saturday  []Occurrence `json:"saturday"`
	}{
		list(time.Sunday), list(time.Monday), list(time.Tuesday), list(time.Wednesday),
		list(time.Thursday), list(time.Friday), list(time.Saturday),
	})
}

// Table buckets occurrences by display-local minutes after midnight
// (0..1439), then by weekday.
type Table map[int]*Days

func (t Table) add(minutes int, day time.Weekday, occ Occurrence) {
	days, ok := t[minutes]
	if !ok {
		days = &Days{}
		t[minutes] = days
	}
	days[day] = append(days[day], occ)
}

// Len returns the total number of occurrences.
func (t Table) Len() int {
	n := 0
	for _, d := range t {
		n += d.Count()
	}
	return n
}

// Slot is one time-of-day row of a Table.
type Slot struct {
	Time int  `json:"time"`
	Days Days `json:"days"`
}

// Slots returns the table's rows ordered by time of day.
func (t Table) Slots() []Slot {
	slots := make([]Slot, 0, len(t))
	for minutes, days := range t {
		slots = append(slots, Slot{Time: minutes, Days: *days})
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Time < slots[j].Time })
	return slots
}

// Occurrences flattens the table into a list ordered by start instant, then
// by event ID.
func (t Table) Occurrences() []Occurrence {
	var out []Occurrence
	for _, days := range t {
		for _, occ := range days {
			out = append(out, occ...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// MarshalJSON encodes the table as its sorted slot list.
func (t Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Slots())
}
