// Package document decodes a raw weekly-calendar source document into the
// zone table and event list the scheduler consumes.
//
// Decoding is lenient below the top level: a zone offset entry or event that
// cannot be decoded is logged and skipped, while a missing or wrongly-typed
// "meta", "zones" or "events" section rejects the whole document.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	appLog "weeklycal/internal/log"
	"weeklycal/internal/model"
	"weeklycal/internal/zone"
)

var ErrMalformedDocument = errors.New("malformed document")

// Document is a decoded source document.
type Document struct {
	Meta   model.Meta
	Zones  *zone.Table
	Events []model.Entry
}

type rawDocument struct {
	Meta   json.RawMessage `json:"meta"`
	Zones  json.RawMessage `json:"zones"`
	Events json.RawMessage `json:"events"`
}

type rawZone struct {
	Rules []json.RawMessage `json:"r"`
}

type rawRule struct {
	Start  *float64 `json:"s"`
	Offset *float64 `json:"o"`
}

// Parse decodes raw. Events keep their position in the source list as ID,
// including entries that failed to decode (Entry.Err is set for those).
func Parse(raw []byte) (*Document, error) {
	var top rawDocument
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	if !isKind(top.Meta, '{') {
		return nil, fmt.Errorf("%w: meta must be an object", ErrMalformedDocument)
	}
	if !isKind(top.Zones, '{') {
		return nil, fmt.Errorf("%w: zones must be an object", ErrMalformedDocument)
	}
	if !isKind(top.Events, '[') {
		return nil, fmt.Errorf("%w: events must be an array", ErrMalformedDocument)
	}

	doc := &Document{}
	if err := json.Unmarshal(top.Meta, &doc.Meta); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrMalformedDocument, err)
	}

	zones, err := decodeZones(top.Zones)
	if err != nil {
		return nil, err
	}
	doc.Zones = zone.NewTable(zones)

	var entries []json.RawMessage
	if err := json.Unmarshal(top.Events, &entries); err != nil {
		return nil, fmt.Errorf("%w: events: %v", ErrMalformedDocument, err)
	}
	doc.Events = make([]model.Entry, 0, len(entries))
	for i, e := range entries {
		doc.Events = append(doc.Events, decodeEvent(i, e))
	}

	appLog.Debug("document parsed", "zones", doc.Zones.Len(), "events", len(doc.Events))
	return doc, nil
}

func decodeEvent(id int, raw json.RawMessage) model.Entry {
	entry := model.Entry{ID: id}
	if !isKind(raw, '{') {
		entry.Err = errors.New("event is not an object")
		appLog.Error("event skipped", entry.Err, "event", id)
		return entry
	}
	var ev model.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		entry.Err = err
		appLog.Error("event skipped", err, "event", id)
		return entry
	}
	if err := ev.Validate(); err != nil {
		entry.Err = err
		appLog.Error("event skipped", err, "event", id)
		return entry
	}
	entry.Event = &ev
	return entry
}

func decodeZones(raw json.RawMessage) (map[string][]zone.Rule, error) {
	var zones map[string]json.RawMessage
	if err := json.Unmarshal(raw, &zones); err != nil {
		return nil, fmt.Errorf("%w: zones: %v", ErrMalformedDocument, err)
	}

	out := make(map[string][]zone.Rule, len(zones))
	for id, z := range zones {
		var rz rawZone
		if !isKind(z, '{') || json.Unmarshal(z, &rz) != nil {
			// An undecodable zone is kept with no rules so lookups report
			// MalformedZone rather than UnknownZone.
			appLog.Error("zone has no offsets", errors.New("zone is not an object with an r list"), "zone", id)
			out[id] = nil
			continue
		}
		rules := make([]zone.Rule, 0, len(rz.Rules))
		for i, e := range rz.Rules {
			r, err := decodeRule(e)
			if err != nil {
				appLog.Error("zone offset skipped", err, "zone", id, "index", i)
				continue
			}
			rules = append(rules, r)
		}
		out[id] = rules
	}
	return out, nil
}

func decodeRule(raw json.RawMessage) (zone.Rule, error) {
	if !isKind(raw, '{') {
		return zone.Rule{}, errors.New("offset is not an object")
	}
	var rr rawRule
	if err := json.Unmarshal(raw, &rr); err != nil {
		return zone.Rule{}, err
	}
	if rr.Offset == nil {
		return zone.Rule{}, fmt.Errorf("%w: o", model.ErrMissingField)
	}
	off := int(math.Round(*rr.Offset))
	if rr.Start == nil {
		return zone.Base(off), nil
	}
	return zone.At(int64(*rr.Start), off), nil
}

// EncodeZones renders rule lists in the document's "zones" wire form.
func EncodeZones(zones map[string][]zone.Rule) ([]byte, error) {
	type encodedRule struct {
		Start  *int64 `json:"s,omitempty"`
		Offset int    `json:"o"`
	}
	type encodedZone struct {
		Rules []encodedRule `json:"r"`
	}

	out := make(map[string]encodedZone, len(zones))
	for id, rules := range zones {
		ez := encodedZone{Rules: make([]encodedRule, 0, len(rules))}
		for _, r := range rules {
			er := encodedRule{Offset: r.Offset}
			if r.HasStart {
				s := r.Start
				er.Start = &s
			}
			ez.Rules = append(ez.Rules, er)
		}
		out[id] = ez
	}
	return json.Marshal(out)
}

func isKind(b []byte, open byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == open
}
