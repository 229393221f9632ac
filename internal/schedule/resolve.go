package schedule

import (
	"fmt"
	"time"

	"weeklycal/internal/model"
	"weeklycal/internal/zone"
)

// Override is the per-date adjustment layered onto an event's recurrence.
//
// Overrides are values: every With* method returns a new Override and leaves
// the receiver untouched. Day points into the event definition and is never
// written through.
type Override struct {
	// Day is the event's per-weekday record for the date, if any.
	Day *model.DayOverride

	// Confirmed is nil unless the event carries a confirmed list.
	Confirmed *bool
	Hide      bool
	Canceled  bool
}

func (o *Override) clone() *Override {
	var n Override
	if o != nil {
		n = *o
	}
	return &n
}

// WithConfirmed returns a copy of o (or a new Override when o is nil) with
// Confirmed set.
func (o *Override) WithConfirmed(v bool) *Override {
	n := o.clone()
	n.Confirmed = &v
	return n
}

// WithHide returns a copy of o marked hidden.
func (o *Override) WithHide() *Override {
	n := o.clone()
	n.Hide = true
	return n
}

// WithCanceled returns a copy of o marked canceled.
func (o *Override) WithCanceled() *Override {
	n := o.clone()
	n.Canceled = true
	return n
}

// IsConfirmed reports an explicit confirmed=true.
func (o *Override) IsConfirmed() bool {
	return o != nil && o.Confirmed != nil && *o.Confirmed
}

// Resolution is the outcome of resolving one event on one date. A nil
// Override means the event does not recur on that date by default.
type Resolution struct {
	Instant  time.Time
	Override *Override
}

// Resolve computes when ev happens on date, interpreted in homeZone, and the
// override that applies to that occurrence.
//
// A date whose start time falls into a forward clock jump returns an error
// wrapping zone.ErrNonexistentLocalTime; callers treat it as "no occurrence".
func Resolve(zones *zone.Table, ev *model.Event, date Date, homeZone string) (Resolution, error) {
	if ev.Start == nil {
		return Resolution{}, fmt.Errorf("%w: start", model.ErrMissingField)
	}

	start := *ev.Start
	var ov *Override
	if day := ev.Days.Get(date.Weekday()); day != nil {
		ov = &Override{Day: day}
		if day.Start != nil {
			start = *day.Start
		}
	}

	instant, err := zones.ToInstant(date.At(start), homeZone)
	if err != nil {
		return Resolution{}, err
	}

	key := date.String()
	if ev.Confirmed != nil {
		if ev.Confirmed.Has(key) {
			ov = ov.WithConfirmed(true)
		} else if ov != nil {
			ov = ov.WithConfirmed(false)
		}
	}

	unix := float64(instant.Unix())
	if (ev.StartDate != nil && unix < *ev.StartDate) || (ev.EndDate != nil && *ev.EndDate < unix) {
		ov = ov.WithHide()
	}

	if ov != nil && !ov.IsConfirmed() &&
		(ev.Canceled.Has(key) || !ev.Weeks.Allows(date.WeekOfMonth())) {
		ov = ov.WithCanceled()
	}

	return Resolution{Instant: instant, Override: ov}, nil
}
