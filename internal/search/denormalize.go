// Package search flattens calendar events into searchable records and keeps
// them in the event index.
package search

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"
)

const isoFormat = "2006-01-02T15:04:05.000Z"

var ErrRecurrenceNotFound = errors.New("search: no override for recurrence id")

// Input identifies the event to denormalize. RecurrenceID selects an
// override instead of the master.
type Input struct {
	ICS          string
	UserID       string
	CalendarID   string
	UID          string
	RecurrenceID string
}

type Person struct {
	Email string `json:"email"`
	CN    string `json:"cn,omitempty"`
}

// Record is the flat, indexable view of one VEVENT.
type Record struct {
	UserID            string   `json:"userId"`
	CalendarID        string   `json:"calendarId"`
	UID               string   `json:"uid"`
	RecurrenceID      string   `json:"recurrenceId,omitempty"`
	Summary           string   `json:"summary"`
	Description       string   `json:"description"`
	Location          string   `json:"location"`
	Start             string   `json:"start"`
	End               string   `json:"end"`
	AllDay            bool     `json:"allDay"`
	DurationInDays    int      `json:"durationInDays"`
	Organizer         *Person  `json:"organizer,omitempty"`
	Attendees         []Person `json:"attendees"`
	Resources         []Person `json:"resources"`
	Class             string   `json:"class"`
	IsRecurrentMaster bool     `json:"isRecurrentMaster"`
	DTStamp           string   `json:"dtstamp,omitempty"`
	Sequence          int      `json:"sequence"`
}

// Denormalize parses in.ICS and flattens the master VEVENT, or the override
// matching in.RecurrenceID.
func Denormalize(in Input) (*Record, error) {
	cal, err := ical.Parse([]byte(in.ICS))
	if err != nil {
		return nil, err
	}
	return denormalizeCalendar(cal, in)
}

func denormalizeCalendar(cal *ical.Calendar, in Input) (*Record, error) {
	var ev *ical.Event
	if in.RecurrenceID != "" {
		rid, err := ParseRecurrenceID(in.RecurrenceID)
		if err != nil {
			return nil, err
		}
		ev = findOverride(cal, rid)
		if ev == nil {
			return nil, fmt.Errorf("%w: %s", ErrRecurrenceNotFound, in.RecurrenceID)
		}
	} else {
		ev = cal.Master()
		if ev == nil {
			return nil, ical.ErrNoEvent
		}
	}
	return flatten(ev, in), nil
}

func flatten(ev *ical.Event, in Input) *Record {
	uid := in.UID
	if uid == "" {
		uid = ev.UID
	}

	start := ev.Start.UTC()
	end := ev.EndTime().UTC()

	rec := &Record{
		UserID:            in.UserID,
		CalendarID:        in.CalendarID,
		UID:               uid,
		Summary:           ev.Summary,
		Description:       ev.Description,
		Location:          ev.Location,
		Start:             start.Format(isoFormat),
		End:               end.Format(isoFormat),
		AllDay:            ev.IsAllDay(),
		Class:             ev.Class,
		IsRecurrentMaster: !ev.IsOverride() && ev.IsRecurring(),
		Sequence:          ev.Sequence,
		Attendees:         []Person{},
		Resources:         []Person{},
	}

	if ev.RecurrenceID != nil {
		rec.RecurrenceID = ev.RecurrenceID.UTC().Format(isoFormat)
	}
	if rec.Class == "" {
		rec.Class = ical.ClassPublic
	}
	if rec.AllDay {
		rec.DurationInDays = int(math.Round(end.Sub(start).Hours() / 24))
	}
	if ev.DTStamp != nil {
		rec.DTStamp = ev.DTStamp.UTC().Format(isoFormat)
	}
	if ev.Organizer != nil {
		rec.Organizer = &Person{Email: ev.Organizer.Email, CN: ev.Organizer.CN}
	}

	for _, a := range ev.Attendees {
		p := Person{Email: a.Email, CN: a.CN}
		if a.IsResource() {
			rec.Resources = append(rec.Resources, p)
		} else {
			rec.Attendees = append(rec.Attendees, p)
		}
	}

	return rec
}

func findOverride(cal *ical.Calendar, rid time.Time) *ical.Event {
	if ev := cal.Override(rid); ev != nil {
		return ev
	}
	// DATE-valued RECURRENCE-IDs match on the calendar day alone.
	day := rid.UTC().Format("20060102")
	for _, ev := range cal.Overrides() {
		if ev.RecurrenceID.IsDate && ev.RecurrenceID.Time.Format("20060102") == day {
			return ev
		}
	}
	return nil
}

var recurrenceIDLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"20060102T150405Z",
	"20060102T150405",
	"2006-01-02",
	"20060102",
}

// ParseRecurrenceID accepts the ISO-8601 and iCalendar forms a recurrence id
// arrives in. Values without an offset are read as UTC.
func ParseRecurrenceID(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range recurrenceIDLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid recurrence id %q", s)
}
