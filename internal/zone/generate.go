package zone

import "time"

// Generate derives a rule list for loc covering [from, to): a base rule with
// the offset in force at from, followed by one dated rule per offset change
// before to. Abbreviation-only transitions are dropped.
func Generate(loc *time.Location, from, to time.Time) []Rule {
	t := from.In(loc)
	_, off := t.Zone()
	rules := []Rule{Base(minutes(off))}
	last := minutes(off)

	for {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.Before(to) {
			break
		}
		t = end.In(loc)
		_, off = t.Zone()
		if m := minutes(off); m != last {
			rules = append(rules, At(end.Unix(), m))
			last = m
		}
	}
	return rules
}

func minutes(offsetSeconds int) int {
	if offsetSeconds < 0 {
		return -((-offsetSeconds + 30) / 60)
	}
	return (offsetSeconds + 30) / 60
}
