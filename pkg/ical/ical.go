// Package ical turns iCalendar text into a typed component model
// (VEVENT, VALARM, VTIMEZONE) validated at parse time.
package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

var ErrNoEvent = errors.New("ical: no VEVENT component")

// Parse decodes an iCalendar object. Every VEVENT must carry a UID and a
// valid DTSTART; malformed dates, durations or triggers fail the whole parse.
func Parse(data []byte) (*Calendar, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	out := &Calendar{}
	if p := cal.Props.Get(ical.PropProductID); p != nil {
		out.ProdID = p.Value
	}
	if p := cal.Props.Get(ical.PropMethod); p != nil {
		out.Method = p.Value
	}

	r := &resolver{zones: make(map[string]*Timezone)}
	for _, comp := range cal.Children {
		if comp.Name != ical.CompTimezone {
			continue
		}
		tz := parseTimezone(comp)
		if tz.TZID == "" {
			continue
		}
		r.zones[tz.TZID] = tz
		out.Timezones = append(out.Timezones, tz)
	}

	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		ev, err := r.parseEvent(comp)
		if err != nil {
			return nil, err
		}
		out.Events = append(out.Events, ev)
	}

	linkOverrides(out.Events)
	return out, nil
}

func linkOverrides(events []*Event) {
	masters := make(map[string]*Event)
	for _, ev := range events {
		if !ev.IsOverride() {
			if _, seen := masters[ev.UID]; !seen {
				masters[ev.UID] = ev
			}
		}
	}
	for _, ev := range events {
		if !ev.IsOverride() {
			continue
		}
		if m, ok := masters[ev.UID]; ok {
			m.Overridden = append(m.Overridden, *ev.RecurrenceID)
		}
	}
}

func parseTimezone(comp *ical.Component) *Timezone {
	tz := &Timezone{}
	if p := comp.Props.Get(ical.PropTimezoneID); p != nil {
		tz.TZID = strings.TrimSpace(p.Value)
	}
	if p := comp.Props.Get("X-LIC-LOCATION"); p != nil {
		tz.Location = strings.TrimSpace(p.Value)
	}
	return tz
}

func (r *resolver) parseEvent(comp *ical.Component) (*Event, error) {
	ev := &Event{}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || strings.TrimSpace(uid.Value) == "" {
		return nil, errors.New("ical: VEVENT missing UID")
	}
	ev.UID = strings.TrimSpace(uid.Value)

	ev.Summary = textProp(comp, ical.PropSummary)
	ev.Description = textProp(comp, ical.PropDescription)
	ev.Location = textProp(comp, ical.PropLocation)
	ev.Class = strings.ToUpper(strings.TrimSpace(textProp(comp, ical.PropClass)))

	if seq := comp.Props.Get(ical.PropSequence); seq != nil {
		n, err := strconv.Atoi(strings.TrimSpace(seq.Value))
		if err != nil {
			return nil, fmt.Errorf("ical: invalid SEQUENCE in %s: %w", ev.UID, err)
		}
		ev.Sequence = n
	}

	if stamp := comp.Props.Get(ical.PropDateTimeStamp); stamp != nil {
		dt, err := r.dateTime(stamp)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid DTSTAMP in %s: %w", ev.UID, err)
		}
		t := dt.UTC()
		ev.DTStamp = &t
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("ical: VEVENT %s missing DTSTART", ev.UID)
	}
	start, err := r.dateTime(dtstart)
	if err != nil {
		return nil, fmt.Errorf("ical: invalid DTSTART in %s: %w", ev.UID, err)
	}
	ev.Start = start

	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, err := r.dateTime(dtend)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid DTEND in %s: %w", ev.UID, err)
		}
		ev.End = &end
	} else if dur := comp.Props.Get(ical.PropDuration); dur != nil {
		d, err := dur.Duration()
		if err != nil {
			return nil, fmt.Errorf("ical: invalid DURATION in %s: %w", ev.UID, err)
		}
		ev.Duration = d
	}

	if rrule := comp.Props.Get(ical.PropRecurrenceRule); rrule != nil {
		ev.RRule = strings.TrimSpace(rrule.Value)
	}

	for _, prop := range comp.Props.Values(ical.PropRecurrenceDates) {
		if strings.EqualFold(prop.Params.Get(ical.ParamValue), "PERIOD") {
			continue
		}
		dates, err := r.dateTimes(&prop)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid RDATE in %s: %w", ev.UID, err)
		}
		ev.RDates = append(ev.RDates, dates...)
	}

	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		dates, err := r.dateTimes(&prop)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid EXDATE in %s: %w", ev.UID, err)
		}
		ev.ExDates = append(ev.ExDates, dates...)
	}

	if recID := comp.Props.Get(ical.PropRecurrenceID); recID != nil {
		rid, err := r.dateTime(recID)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid RECURRENCE-ID in %s: %w", ev.UID, err)
		}
		ev.RecurrenceID = &rid
	}

	if org := comp.Props.Get(ical.PropOrganizer); org != nil {
		p := parsePerson(org)
		ev.Organizer = &p
	}
	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		ev.Attendees = append(ev.Attendees, parseAttendee(&prop))
	}

	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		a, err := r.parseAlarm(child)
		if err != nil {
			return nil, fmt.Errorf("ical: invalid VALARM in %s: %w", ev.UID, err)
		}
		ev.Alarms = append(ev.Alarms, a)
	}

	return ev, nil
}

func (r *resolver) parseAlarm(comp *ical.Component) (*Alarm, error) {
	a := &Alarm{
		Action:      strings.ToUpper(strings.TrimSpace(textProp(comp, ical.PropAction))),
		Summary:     textProp(comp, ical.PropSummary),
		Description: textProp(comp, ical.PropDescription),
	}

	trig := comp.Props.Get(ical.PropTrigger)
	if trig == nil {
		return nil, errors.New("missing TRIGGER")
	}
	if strings.EqualFold(trig.Params.Get(ical.ParamValue), "DATE-TIME") {
		dt, err := r.dateTime(trig)
		if err != nil {
			return nil, fmt.Errorf("invalid TRIGGER: %w", err)
		}
		t := dt.UTC()
		a.Trigger.Absolute = &t
	} else {
		d, err := trig.Duration()
		if err != nil {
			return nil, fmt.Errorf("invalid TRIGGER: %w", err)
		}
		a.Trigger.Offset = d
		a.Trigger.RelatedEnd = strings.EqualFold(trig.Params.Get("RELATED"), "END")
	}

	if rep := comp.Props.Get(ical.PropRepeat); rep != nil {
		n, err := strconv.Atoi(strings.TrimSpace(rep.Value))
		if err != nil {
			return nil, fmt.Errorf("invalid REPEAT: %w", err)
		}
		a.Repeat = n
	}
	if dur := comp.Props.Get(ical.PropDuration); dur != nil {
		d, err := dur.Duration()
		if err != nil {
			return nil, fmt.Errorf("invalid DURATION: %w", err)
		}
		a.Duration = d
	}

	for _, prop := range comp.Props.Values(ical.PropAttendee) {
		a.Attendees = append(a.Attendees, parsePerson(&prop))
	}

	return a, nil
}

func parsePerson(prop *ical.Prop) Person {
	return Person{
		Email:    MailAddress(prop.Value),
		CN:       prop.Params.Get(ical.ParamCommonName),
		CUType:   strings.ToUpper(prop.Params.Get("CUTYPE")),
		PartStat: strings.ToUpper(prop.Params.Get(ical.ParamParticipationStatus)),
		Role:     strings.ToUpper(prop.Params.Get("ROLE")),
	}
}

// parseAttendee applies the RFC 5545 defaults for CUTYPE and PARTSTAT.
func parseAttendee(prop *ical.Prop) Person {
	p := parsePerson(prop)
	if p.CUType == "" {
		p.CUType = CUTypeIndividual
	}
	if p.PartStat == "" {
		p.PartStat = PartStatNeedsAction
	}
	return p
}

// MailAddress strips a case-insensitive "mailto:" scheme from a cal-address.
func MailAddress(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

func textProp(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	s, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return s
}

// EnsureDTStamp adds a DTSTAMP to every VEVENT lacking one.
func EnsureDTStamp(data []byte) ([]byte, bool) {
	dec := ical.NewDecoder(bytes.NewReader(data))
	cal, err := dec.Decode()
	if err != nil {
		return data, false
	}

	modified := false

	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			if child.Props.Get(ical.PropDateTimeStamp) == nil {
				now := time.Now().UTC()
				prop := ical.NewProp(ical.PropDateTimeStamp)
				prop.SetDateTime(now)
				child.Props.Set(prop)
				modified = true
			}
		}
	}

	if !modified {
		return data, false
	}

	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	if err := enc.Encode(cal); err != nil {
		return data, false
	}

	return buf.Bytes(), true
}
