// Package ics exports a computed weekly schedule as an iCalendar feed.
package ics

import (
	"bytes"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"weeklycal/internal/schedule"
)

const (
	prodID = "-//weeklycal//weekly schedule//EN"
	// defaultDuration applies when an occurrence has no duration.
	defaultDuration = time.Hour
)

// uidNamespace seeds name-based UIDs so an occurrence keeps its UID across
// exports.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("weeklycal:occurrence"))

type Options struct {
	Name        string
	Description string
	// TimeZone is advertised as X-WR-TIMEZONE; event times are always UTC.
	TimeZone string
	// Now stamps every VEVENT (DTSTAMP).
	Now time.Time
}

// UID returns the stable identifier of the occurrence of event id at the
// given instant.
func UID(id int, at time.Time) string {
	name := fmt.Sprintf("%d/%s", id, at.UTC().Format(time.RFC3339))
	return uuid.NewSHA1(uidNamespace, []byte(name)).String() + "@weeklycal"
}

// Export renders every occurrence in table as a VEVENT, ordered by start.
func Export(table schedule.Table, opts Options) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(prodID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetName(opts.Name)
		cal.SetXWRCalName(opts.Name)
	}
	if opts.Description != "" {
		cal.SetXWRCalDesc(opts.Description)
	}
	if opts.TimeZone != "" {
		cal.SetXWRTimezone(opts.TimeZone)
	}
	stamp := opts.Now
	if stamp.IsZero() {
		stamp = time.Now()
	}

	for _, occ := range table.Occurrences() {
		ev := cal.AddEvent(UID(occ.ID, occ.At))
		ev.SetDtStampTime(stamp)
		ev.SetStartAt(occ.At)
		ev.SetEndAt(occ.At.Add(duration(occ)))
		ev.SetSummary(summary(occ))
		ev.SetStatus(status(occ))

		if occ.Desc != nil {
			ev.SetDescription(*occ.Desc)
		}
		if occ.Web != nil {
			ev.SetURL(*occ.Web)
		}
		if occ.World != nil && occ.World.Name != "" {
			ev.SetLocation(occ.World.Name)
		}
		for _, p := range occ.Platforms {
			ev.AddCategory(p)
		}
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize calendar: %w", err)
	}
	return buf.Bytes(), nil
}

func duration(occ schedule.Occurrence) time.Duration {
	if occ.Duration == nil || *occ.Duration <= 0 {
		return defaultDuration
	}
	return time.Duration(*occ.Duration * float64(time.Minute))
}

func summary(occ schedule.Occurrence) string {
	if occ.Name != nil && *occ.Name != "" {
		return *occ.Name
	}
	return fmt.Sprintf("Event %d", occ.ID)
}

func status(occ schedule.Occurrence) ical.ObjectStatus {
	switch {
	case occ.Canceled:
		return ical.ObjectStatusCancelled
	case !occ.Confirmed:
		return ical.ObjectStatusTentative
	default:
		return ical.ObjectStatusConfirmed
	}
}
