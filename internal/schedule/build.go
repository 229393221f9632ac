// Package schedule expands weekly event definitions into the occurrences that
// fall within a rolling seven-day window, bucketed by display-local time of
// day and weekday.
package schedule

import (
	"errors"
	"time"

	appLog "weeklycal/internal/log"
	"weeklycal/internal/model"
	"weeklycal/internal/zone"
)

const (
	// windowDays is the length of the display window.
	windowDays = 7
	// scanDays is the number of home-zone dates tried per event.
	scanDays = windowDays + 1
)

// Input is everything one Build call reads. None of it is modified.
type Input struct {
	Zones       *zone.Table
	Events      []model.Entry
	Now         time.Time
	DisplayZone string
	Language    string
}

// Build computes the schedule for the week starting at in.Now.
//
// Events that cannot be scheduled (bad zone, missing fields) are logged and
// skipped. An unusable display zone is logged and yields an empty table.
func Build(in Input) Table {
	table := Table{}
	localNow, err := in.Zones.ToLocal(in.Now, in.DisplayZone)
	if err != nil {
		appLog.Error("invalid display zone", err, "display_zone", in.DisplayZone)
		return table
	}
	limit := zone.WallUnix(localNow) + windowDays*24*60*60

	for _, entry := range in.Events {
		if entry.Event == nil {
			continue
		}
		buildEvent(table, in, entry.ID, entry.Event, limit)
	}

	appLog.Debug("schedule built", "events", len(in.Events), "occurrences", table.Len(), "display_zone", in.DisplayZone)
	return table
}

func buildEvent(table Table, in Input, id int, ev *model.Event, limit int64) {
	home := ev.TimeZone
	homeNow, err := in.Zones.ToLocal(in.Now, home)
	if err != nil {
		appLog.Error("event skipped", err, "event", id, "zone", home)
		return
	}
	lang := ev.Language(in.Language)

	date := DateOf(homeNow)
	for i := 0; i < scanDays; i, date = i+1, date.AddDays(1) {
		res, err := Resolve(in.Zones, ev, date, home)
		if err != nil {
			if !errors.Is(err, zone.ErrNonexistentLocalTime) {
				appLog.Error("event date skipped", err, "event", id, "zone", home, "date", date.String())
			}
			continue
		}
		if !res.Instant.After(in.Now) {
			continue
		}
		local, err := in.Zones.ToLocal(res.Instant, in.DisplayZone)
		if err != nil {
			continue
		}
		if zone.WallUnix(local) >= limit {
			break
		}
		if res.Override == nil || res.Override.Hide {
			continue
		}

		occ := newOccurrence(id, ev, lang, date.Weekday(), res.Override)
		occ.At = local
		occ.Day = local.Weekday()
		table.add(local.Hour()*60+local.Minute(), occ.Day, occ)
	}
}

// newOccurrence resolves display fields. Each field comes from the first
// tier that has it: localized per-day record, per-day record, localized
// event, event.
func newOccurrence(id int, ev *model.Event, lang *model.Language, home time.Weekday, ov *Override) Occurrence {
	var tiers []*model.Info
	if lang != nil {
		if d := lang.Days.Get(home); d != nil {
			tiers = append(tiers, &d.Info)
		}
	}
	if ov.Day != nil {
		tiers = append(tiers, &ov.Day.Info)
	}
	if lang != nil {
		tiers = append(tiers, &lang.Info)
	}
	tiers = append(tiers, &ev.Info)

	occ := Occurrence{
		ID: id,
		Info: model.Info{
			Name:     first(tiers, func(i *model.Info) *string { return i.Name }),
			Duration: first(tiers, func(i *model.Info) *float64 { return i.Duration }),
			Poster:   first(tiers, func(i *model.Info) *model.Poster { return i.Poster }),
			Desc:     first(tiers, func(i *model.Info) *string { return i.Desc }),
			Web:      first(tiers, func(i *model.Info) *string { return i.Web }),
			Discord:  first(tiers, func(i *model.Info) *string { return i.Discord }),
			Group:    first(tiers, func(i *model.Info) *string { return i.Group }),
			Hashtag:  first(tiers, func(i *model.Info) *model.Hashtag { return i.Hashtag }),
			Twitter:  first(tiers, func(i *model.Info) *string { return i.Twitter }),
			Join:     first(tiers, func(i *model.Info) *[]model.Named { return i.Join }),
			World:    first(tiers, func(i *model.Info) *model.Named { return i.World }),
		},
		Platforms: ev.Platforms,
		BaseName:  ev.Name,
		Canceled:  ov.Canceled,
		Confirmed: ov.Confirmed == nil || *ov.Confirmed,
	}
	return occ
}

func first[T any](tiers []*model.Info, get func(*model.Info) *T) *T {
	for _, t := range tiers {
		if v := get(t); v != nil {
			return v
		}
	}
	return nil
}
