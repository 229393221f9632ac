// Package zone converts between absolute instants and zone-local wall-clock
// time using pre-computed, ordered UTC offset rules.
//
// A zone is not a tz database entry: it is a flat list of rules, the first of
// which has no start and covers all time before the first dated rule. Every
// later rule carries the unix second at which its offset takes effect.
package zone

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownZone          = errors.New("unknown time zone")
	ErrMalformedZone        = errors.New("malformed time zone")
	ErrNonexistentLocalTime = errors.New("nonexistent local time")
)

// Rule is one UTC offset rule. A rule without HasStart is the base rule.
type Rule struct {
	HasStart bool
	// Start is the unix second at which Offset takes effect.
	Start int64
	// Offset is minutes east of UTC.
	Offset int
}

// Base returns the unconditional rule for a zone.
func Base(offsetMinutes int) Rule {
	return Rule{Offset: offsetMinutes}
}

// At returns a rule taking effect at the given unix second.
func At(startUnix int64, offsetMinutes int) Rule {
	return Rule{HasStart: true, Start: startUnix, Offset: offsetMinutes}
}

// Table maps zone identifiers to their rule lists. It is never mutated after
// NewTable and is safe to share between computations.
type Table struct {
	zones map[string][]Rule
}

// NewTable copies the given rule lists into a read-only Table.
func NewTable(zones map[string][]Rule) *Table {
	t := &Table{zones: make(map[string][]Rule, len(zones))}
	for id, rules := range zones {
		t.zones[id] = append([]Rule(nil), rules...)
	}
	return t
}

// Has reports whether zoneID is present in the table.
func (t *Table) Has(zoneID string) bool {
	if t == nil {
		return false
	}
	_, ok := t.zones[zoneID]
	return ok
}

// Len returns the number of zones.
func (t *Table) Len() int {
	return len(t.zones)
}

func (t *Table) rules(zoneID string) ([]Rule, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zoneID)
	}
	rules, ok := t.zones[zoneID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownZone, zoneID)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: %q has no offsets", ErrMalformedZone, zoneID)
	}
	if rules[0].HasStart {
		return nil, fmt.Errorf("%w: %q first offset has a start", ErrMalformedZone, zoneID)
	}
	return rules, nil
}

// OffsetAt returns the offset in minutes active at instant and the start of
// the rule providing it (zero for the base rule).
//
// The active rule is the last one whose start is <= instant, scanning in
// stored order and stopping at the first rule that lies in the future. Rules
// sharing a start resolve to the later-listed one.
func (t *Table) OffsetAt(zoneID string, instant time.Time) (int, time.Time, error) {
	rules, err := t.rules(zoneID)
	if err != nil {
		return 0, time.Time{}, err
	}

	unix := instant.Unix()
	offset := rules[0].Offset
	var start time.Time
	for _, r := range rules[1:] {
		if !r.HasStart {
			return 0, time.Time{}, fmt.Errorf("%w: %q has an undated offset after the first", ErrMalformedZone, zoneID)
		}
		if r.Start > unix {
			break
		}
		offset = r.Offset
		start = time.Unix(r.Start, 0).UTC()
	}
	return offset, start, nil
}

// ToLocal expresses instant in zoneID. The result carries a fixed zone named
// after zoneID so its wall-clock fields are the zone-local ones.
func (t *Table) ToLocal(instant time.Time, zoneID string) (time.Time, error) {
	offset, _, err := t.OffsetAt(zoneID, instant)
	if err != nil {
		return time.Time{}, err
	}
	return instant.In(fixed(zoneID, offset)), nil
}

// ToInstant interprets the wall-clock fields of wall (its location is
// ignored) as local time in zoneID and returns the instant, expressed in the
// matching fixed offset.
//
// Wall-clock values skipped by a forward jump fail with
// ErrNonexistentLocalTime. Values repeated by a backward jump resolve to the
// earlier, pre-transition offset.
func (t *Table) ToInstant(wall time.Time, zoneID string) (time.Time, error) {
	rules, err := t.rules(zoneID)
	if err != nil {
		return time.Time{}, err
	}

	w := WallUnix(wall)
	offset := rules[0].Offset
	candidate := w - int64(offset)*60
	for _, r := range rules[1:] {
		if !r.HasStart {
			return time.Time{}, fmt.Errorf("%w: %q has an undated offset after the first", ErrMalformedZone, zoneID)
		}
		if r.Start > candidate {
			break
		}
		jump := int64(r.Offset-offset) * 60
		sinceTransition := w - (r.Start + int64(offset)*60)
		if jump > sinceTransition {
			return time.Time{}, fmt.Errorf("%w: %s in %q", ErrNonexistentLocalTime, wall.Format("2006-01-02 15:04"), zoneID)
		}
		offset = r.Offset
		candidate = w - int64(offset)*60
	}
	return time.Unix(candidate, int64(wall.Nanosecond())).In(fixed(zoneID, offset)), nil
}

// WallUnix reads the wall-clock fields of t as if they were UTC.
func WallUnix(t time.Time) int64 {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC).Unix()
}

func fixed(zoneID string, offsetMinutes int) *time.Location {
	return time.FixedZone(zoneID, offsetMinutes*60)
}
