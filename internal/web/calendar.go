package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	appLog "weeklycal/internal/log"
	"weeklycal/internal/render"
	"weeklycal/internal/schedule"
)

//go:embed templates/*.html
var templateFS embed.FS

var calendarTmpl = template.Must(template.New("calendar.html").Funcs(template.FuncMap{
	"str":       str,
	"clock":     clock,
	"platforms": func(p []string) string { return strings.Join(p, " / ") },
}).ParseFS(templateFS, "templates/calendar.html"))

type dayColumn struct {
	Weekday time.Weekday
	Name    string
}

type calendarRow struct {
	Minutes int
	Cells   [][]schedule.Occurrence
}

type calendarView struct {
	Meta     render.Meta
	Settings render.Settings
	Columns  []dayColumn
	Rows     []calendarRow
	LoadedAt time.Time
	Live     bool
}

// weekOrder lists weekdays in column order.
func weekOrder(mondayFirst bool) []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	start := time.Sunday
	if mondayFirst {
		start = time.Monday
	}
	for i := range 7 {
		days = append(days, (start+time.Weekday(i))%7)
	}
	return days
}

func newCalendarView(table schedule.Table, meta render.Meta, st render.Settings, mondayFirst bool) calendarView {
	order := weekOrder(mondayFirst)
	view := calendarView{Meta: meta, Settings: st}
	for _, wd := range order {
		view.Columns = append(view.Columns, dayColumn{Weekday: wd, Name: wd.String()})
	}
	for _, slot := range table.Slots() {
		row := calendarRow{Minutes: slot.Time, Cells: make([][]schedule.Occurrence, len(order))}
		for i, wd := range order {
			row.Cells[i] = slot.Days[wd]
		}
		view.Rows = append(view.Rows, row)
	}
	return view
}

// handleCalendar renders the weekly grid. The page is complete when served,
// so it carries data-ready="true" for the capture pipeline.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	snap, st, table, ok := s.view(w, r)
	if !ok {
		return
	}

	view := newCalendarView(table, render.LocalizedMeta(snap.Document.Meta, st.Language), st, s.cfg.MondayFirst())
	view.LoadedAt = snap.LoadedAt
	view.Live = s.hub != nil

	var buf bytes.Buffer
	if err := calendarTmpl.Execute(&buf, view); err != nil {
		appLog.Error("calendar template failed", err)
		http.Error(w, "failed to render calendar", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// clock formats minutes after midnight as HH:MM.
func clock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
