// Package render is the batch entry point: raw source document plus viewer
// settings in, serialized schedule out.
package render

import (
	"encoding/json"
	"fmt"
	"time"

	"weeklycal/internal/document"
	appLog "weeklycal/internal/log"
	"weeklycal/internal/model"
	"weeklycal/internal/schedule"
)

const (
	DefaultLanguage = "en"
	DefaultTimeZone = "America/New_York"
)

// Settings selects how a schedule is presented. Empty fields take the
// package defaults.
type Settings struct {
	Language string `json:"language,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Normalize fills empty fields with defaults.
func (s Settings) Normalize() Settings {
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.TimeZone == "" {
		s.TimeZone = DefaultTimeZone
	}
	return s
}

// Request is the wire form accepted by the batch HTTP endpoint.
type Request struct {
	Document json.RawMessage `json:"rawDocument"`
	Settings Settings        `json:"settings"`
}

// Render parses raw and returns the JSON-encoded schedule for the week
// starting at now. A malformed document fails with
// document.ErrMalformedDocument and no output; an unknown display zone
// renders an empty schedule.
func Render(raw []byte, settings Settings, now time.Time) ([]byte, error) {
	doc, err := document.Parse(raw)
	if err != nil {
		appLog.Error("render failed", err)
		return nil, err
	}
	out, err := json.Marshal(Schedule(doc, settings, now))
	if err != nil {
		return nil, fmt.Errorf("encode schedule: %w", err)
	}
	return out, nil
}

// Schedule builds the table for an already parsed document.
func Schedule(doc *document.Document, settings Settings, now time.Time) schedule.Table {
	settings = settings.Normalize()
	return schedule.Build(schedule.Input{
		Zones:       doc.Zones,
		Events:      doc.Events,
		Now:         now,
		DisplayZone: settings.TimeZone,
		Language:    settings.Language,
	})
}

// Meta is calendar metadata resolved for one language.
type Meta struct {
	Title string `json:"title"`
	Desc  string `json:"desc"`
	Link  string `json:"link"`
}

// LocalizedMeta resolves title, desc and link, preferring the entry for lang
// over the base values.
func LocalizedMeta(meta model.Meta, lang string) Meta {
	out := Meta{
		Title: deref(meta.Title),
		Desc:  deref(meta.Desc),
		Link:  deref(meta.Link),
	}
	l, ok := meta.Lang[lang]
	if !ok {
		return out
	}
	if l.Title != nil {
		out.Title = *l.Title
	}
	if l.Desc != nil {
		out.Desc = *l.Desc
	}
	if l.Link != nil {
		out.Link = *l.Link
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
