package ical

import (
	"strings"
	"time"
)

// Defaults of an ATTENDEE without PARTSTAT or CUTYPE.
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	CUTypeIndividual    = "INDIVIDUAL"
)

// Calendar user types of resources.
const (
	CUTypeResource = "RESOURCE"
	CUTypeRoom     = "ROOM"
)

// Alarm actions
const (
	ActionEmail   = "EMAIL"
	ActionDisplay = "DISPLAY"
	ActionAudio   = "AUDIO"
)

const (
	ClassPublic       = "PUBLIC"
	ClassPrivate      = "PRIVATE"
	ClassConfidential = "CONFIDENTIAL"
)

// DateTime is a DATE or DATE-TIME property value resolved to an instant.
// Floating values (no TZID, no Z suffix) and DATE values are pinned to UTC.
type DateTime struct {
	Time     time.Time
	TZID     string
	IsDate   bool
	Floating bool
}

func (d DateTime) IsZero() bool { return d.Time.IsZero() }

func (d DateTime) UTC() time.Time { return d.Time.UTC() }

// Person is an ORGANIZER or ATTENDEE.
type Person struct {
	Email    string
	CN       string
	CUType   string
	PartStat string
	Role     string
}

// IsResource reports whether the calendar user is a resource or a room.
func (p Person) IsResource() bool {
	switch strings.ToUpper(p.CUType) {
	case CUTypeResource, CUTypeRoom:
		return true
	}
	return false
}

// Trigger is a VALARM TRIGGER. Either Absolute is set, or Offset applies to the
// start (or the end when RelatedEnd) of the occurrence.
type Trigger struct {
	Offset     time.Duration
	RelatedEnd bool
	Absolute   *time.Time
}

// Instant returns the trigger instant for an occurrence.
func (t Trigger) Instant(start, end time.Time) time.Time {
	if t.Absolute != nil {
		return t.Absolute.UTC()
	}
	if t.RelatedEnd {
		return end.Add(t.Offset).UTC()
	}
	return start.Add(t.Offset).UTC()
}

type Alarm struct {
	Action      string
	Trigger     Trigger
	Summary     string
	Description string
	Attendees   []Person
	Repeat      int
	Duration    time.Duration
}

type Event struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Class       string
	Sequence    int
	DTStamp     *time.Time

	Start    DateTime
	End      *DateTime
	Duration time.Duration

	RRule        string
	RDates       []DateTime
	ExDates      []DateTime
	RecurrenceID *DateTime

	// Overridden holds the RECURRENCE-ID of every sibling VEVENT that
	// overrides one of this master's occurrences.
	Overridden []DateTime

	Organizer *Person
	Attendees []Person
	Alarms    []*Alarm
}

func (e *Event) IsRecurring() bool { return e.RRule != "" }

func (e *Event) IsOverride() bool { return e.RecurrenceID != nil }

func (e *Event) IsAllDay() bool { return e.Start.IsDate }

// EndTime resolves the end instant from DTEND, DURATION, or the RFC 5545
// defaults (one day for DATE starts, zero length otherwise).
func (e *Event) EndTime() time.Time {
	if e.End != nil {
		return e.End.Time
	}
	if e.Duration != 0 {
		return e.Start.Time.Add(e.Duration)
	}
	if e.Start.IsDate {
		return e.Start.Time.AddDate(0, 0, 1)
	}
	return e.Start.Time
}

// Length is the span between start and end of a single occurrence.
func (e *Event) Length() time.Duration {
	return e.EndTime().Sub(e.Start.Time)
}

type Timezone struct {
	TZID     string
	Location string // X-LIC-LOCATION, when present
}

type Calendar struct {
	ProdID    string
	Method    string
	Events    []*Event
	Timezones []*Timezone
}

// Master returns the VEVENT without RECURRENCE-ID, falling back to the
// first VEVENT when every component is an override.
func (c *Calendar) Master() *Event {
	for _, ev := range c.Events {
		if !ev.IsOverride() {
			return ev
		}
	}
	if len(c.Events) > 0 {
		return c.Events[0]
	}
	return nil
}

func (c *Calendar) Overrides() []*Event {
	var out []*Event
	for _, ev := range c.Events {
		if ev.IsOverride() {
			out = append(out, ev)
		}
	}
	return out
}

// Override returns the override whose RECURRENCE-ID is the given instant.
func (c *Calendar) Override(recurrenceID time.Time) *Event {
	for _, ev := range c.Events {
		if ev.RecurrenceID != nil && ev.RecurrenceID.Time.Equal(recurrenceID) {
			return ev
		}
	}
	return nil
}
