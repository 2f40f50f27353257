package ical

import (
	"bytes"
	"errors"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// NewEvent describes a single VEVENT to be created.
type NewEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Class       string
	Organizer   *Person
	Attendees   []Person
}

// NewEventICS builds a VCALENDAR holding one VEVENT. Timed events are written
// in UTC; all-day events as DATE values.
func NewEventICS(prodID string, in NewEvent) ([]byte, error) {
	if in.UID == "" {
		return nil, errors.New("ical: event UID is required")
	}
	if in.Start.IsZero() {
		return nil, errors.New("ical: event start is required")
	}
	if !in.End.IsZero() && in.End.Before(in.Start) {
		return nil, errors.New("ical: event ends before it starts")
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, in.UID)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	if in.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, in.Start)
		end := in.End
		if end.IsZero() || !end.After(in.Start) {
			end = in.Start.AddDate(0, 0, 1)
		}
		vevent.Props.SetDate(ical.PropDateTimeEnd, end)
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, in.Start.UTC())
		if !in.End.IsZero() {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, in.End.UTC())
		}
	}

	if in.Summary != "" {
		vevent.Props.SetText(ical.PropSummary, in.Summary)
	}
	if in.Description != "" {
		vevent.Props.SetText(ical.PropDescription, in.Description)
	}
	if in.Location != "" {
		vevent.Props.SetText(ical.PropLocation, in.Location)
	}
	if in.Class != "" {
		vevent.Props.SetText(ical.PropClass, strings.ToUpper(in.Class))
	}

	if in.Organizer != nil {
		vevent.Props.Set(personProp(ical.PropOrganizer, *in.Organizer))
	}
	for _, a := range in.Attendees {
		vevent.Props.Add(personProp(ical.PropAttendee, a))
	}

	cal.Children = append(cal.Children, vevent.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func personProp(name string, p Person) *ical.Prop {
	prop := ical.NewProp(name)
	prop.Value = "mailto:" + p.Email
	if p.CN != "" {
		prop.Params.Set(ical.ParamCommonName, p.CN)
	}
	if p.CUType != "" {
		prop.Params.Set("CUTYPE", p.CUType)
	}
	if p.PartStat != "" {
		prop.Params.Set(ical.ParamParticipationStatus, p.PartStat)
	}
	if p.Role != "" {
		prop.Params.Set("ROLE", p.Role)
	}
	return prop
}
