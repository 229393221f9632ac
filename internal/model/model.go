package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingField reports an event without a required field (start, tz).
var ErrMissingField = errors.New("missing required field")

// Info holds the display fields shared by events, per-day overrides and
// localized variants. A nil field is absent and falls through to the next
// tier when an occurrence is resolved.
type Info struct {
	Name     *string  `json:"name,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Poster   *Poster  `json:"poster,omitempty"`
	Desc     *string  `json:"desc,omitempty"`
	Web      *string  `json:"web,omitempty"`
	Discord  *string  `json:"discord,omitempty"`
	Group    *string  `json:"group,omitempty"`
	Hashtag  *Hashtag `json:"hashtag,omitempty"`
	Twitter  *string  `json:"twitter,omitempty"`
	Join     *[]Named `json:"join,omitempty"`
	World    *Named   `json:"world,omitempty"`
}

// Poster references an uploaded poster image by number and its size.
type Poster struct {
	Number int `json:"n"`
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Named is a linked entity such as a world or a user to join.
type Named struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// Hashtag is either a plain tag or a display form with a URL-escaped form.
type Hashtag struct {
	Display string
	Escaped string
}

func (h *Hashtag) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		h.Display, h.Escaped = s, s
		return nil
	}
	var obj struct {
		Display string `json:"display"`
		Escaped string `json:"escaped"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("hashtag: %w", err)
	}
	h.Display, h.Escaped = obj.Display, obj.Escaped
	return nil
}

func (h Hashtag) MarshalJSON() ([]byte, error) {
	if h.Display == h.Escaped {
		return json.Marshal(h.Display)
	}
	return json.Marshal(struct {
		Display string `json:"display"`
		Escaped string `json:"escaped"`
	}{h.Display, h.Escaped})
}

// DayOverride is the per-weekday record of an event. Its presence alone
// schedules the event on that weekday.
type DayOverride struct {
	Info
	Start *float64 `json:"start,omitempty"`
}

// Days holds per-weekday records indexed by time.Weekday. On the wire they
// are flattened into the parent object under "sunday" .. "saturday".
type Days [7]*DayOverride

// Get returns the record for day, or nil.
func (d Days) Get(day time.Weekday) *DayOverride {
	if day < time.Sunday || day > time.Saturday {
		return nil
	}
	return d[day]
}

var dayKeys = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// DayKey returns the lower-case wire name of day.
func DayKey(day time.Weekday) string {
	return dayKeys[day]
}

// decodeDays extracts flattened weekday records. Values that are not
// objects are treated as absent.
func decodeDays(b []byte) (Days, error) {
	var days Days
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return days, err
	}
	for i, key := range dayKeys {
		v, ok := raw[key]
		if !ok || !isObject(v) {
			continue
		}
		var d DayOverride
		if err := json.Unmarshal(v, &d); err != nil {
			return days, fmt.Errorf("%s: %w", key, err)
		}
		days[i] = &d
	}
	return days, nil
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

// Language is a localized variant of an event: display fields plus its own
// per-day records.
type Language struct {
	Info
	Days Days `json:"-"`
}

func (l *Language) UnmarshalJSON(b []byte) error {
	type plain Language
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	days, err := decodeDays(b)
	if err != nil {
		return err
	}
	p.Days = days
	*l = Language(p)
	return nil
}

// DateSet is a set of YYYY-MM-DD dates.
type DateSet map[string]struct{}

// NewDateSet builds a set from the given dates.
func NewDateSet(dates ...string) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[d] = struct{}{}
	}
	return s
}

// Has reports membership; a nil set contains nothing.
func (s DateSet) Has(date string) bool {
	_, ok := s[date]
	return ok
}

func (s *DateSet) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var dates []string
	if err := json.Unmarshal(b, &dates); err != nil {
		return fmt.Errorf("date list: %w", err)
	}
	*s = NewDateSet(dates...)
	return nil
}

// Cancellation is either "every occurrence" or a set of dates.
type Cancellation struct {
	All   bool
	Dates DateSet
}

// Has reports whether the occurrence on date is canceled.
func (c Cancellation) Has(date string) bool {
	return c.All || c.Dates.Has(date)
}

func (c *Cancellation) UnmarshalJSON(b []byte) error {
	var all bool
	if err := json.Unmarshal(b, &all); err == nil {
		c.All = all
		return nil
	}
	var dates DateSet
	if err := json.Unmarshal(b, &dates); err != nil {
		return fmt.Errorf("canceled: want bool or date list: %w", err)
	}
	c.Dates = dates
	return nil
}

// Weeks lists allowed 1-based weeks of the month.
type Weeks []int

func (w *Weeks) UnmarshalJSON(b []byte) error {
	if isNull(b) {
		return nil
	}
	var nums []float64
	if err := json.Unmarshal(b, &nums); err != nil {
		return fmt.Errorf("weeks: %w", err)
	}
	out := make(Weeks, 0, len(nums))
	for _, n := range nums {
		out = append(out, int(n))
	}
	*w = out
	return nil
}

// Allows reports whether week is listed. A nil list allows every week.
func (w Weeks) Allows(week int) bool {
	if w == nil {
		return true
	}
	for _, v := range w {
		if v == week {
			return true
		}
	}
	return false
}

// Event is one weekly event definition.
type Event struct {
	Info

	// Start is the default start time in minutes after local midnight.
	Start    *float64 `json:"start"`
	TimeZone string   `json:"tz"`

	Days Days `json:"-"`

	// Confirmed, when present, lists the only dates on which the event is
	// confirmed to happen.
	Confirmed DateSet      `json:"confirmed,omitempty"`
	Canceled  Cancellation `json:"canceled"`
	Weeks     Weeks        `json:"weeks,omitempty"`

	// StartDate and EndDate bound visible occurrences, in unix seconds.
	StartDate *float64 `json:"startDate,omitempty"`
	EndDate   *float64 `json:"endDate,omitempty"`

	Languages map[string]*Language `json:"lang,omitempty"`
	Platforms []string             `json:"platforms,omitempty"`
}

func (e *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	days, err := decodeDays(b)
	if err != nil {
		return err
	}
	p.Days = days
	*e = Event(p)
	return nil
}

// Validate checks the fields the resolver cannot work without.
func (e *Event) Validate() error {
	if e.Start == nil {
		return fmt.Errorf("%w: start", ErrMissingField)
	}
	if e.TimeZone == "" {
		return fmt.Errorf("%w: tz", ErrMissingField)
	}
	return nil
}

// Language returns the localized variant for lang, or nil.
func (e *Event) Language(lang string) *Language {
	if lang == "" {
		return nil
	}
	return e.Languages[lang]
}

// Entry is an event as it appeared in the source document. ID is its
// position in the document's event list; Err is set when the entry could not
// be decoded and Event is nil.
type Entry struct {
	ID    int
	Event *Event
	Err   error
}

// Meta describes the calendar as a whole.
type Meta struct {
	Title *string             `json:"title,omitempty"`
	Desc  *string             `json:"desc,omitempty"`
	Link  *string             `json:"link,omitempty"`
	Lang  map[string]MetaText `json:"lang,omitempty"`
}

// MetaText is a localized subset of Meta.
type MetaText struct {
	Title *string `json:"title,omitempty"`
	Desc  *string `json:"desc,omitempty"`
	Link  *string `json:"link,omitempty"`
}
