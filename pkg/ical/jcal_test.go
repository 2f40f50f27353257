package ical

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJCal = `["vcalendar",
  [["version", {}, "text", "2.0"], ["prodid", {}, "text", "-//Sabre//Sabre VObject 4.1.3//EN"]],
  [["vevent",
    [
      ["uid", {}, "text", "jcal-1"],
      ["dtstamp", {}, "date-time", "2017-12-01T10:00:00Z"],
      ["dtstart", {"tzid": "Europe/Berlin"}, "date-time", "2017-12-20T14:00:00"],
      ["duration", {}, "duration", "PT1H"],
      ["summary", {}, "text", "Plan; review, ship"],
      ["rrule", {}, "recur", {"freq": "WEEKLY", "byday": ["MO", "WE"], "until": "2018-01-31T00:00:00Z"}],
      ["exdate", {}, "date", "2017-12-27"],
      ["geo", {}, "float", [48.85, 2.35]],
      ["attendee", {"cn": "Bob", "partstat": "NEEDS-ACTION"}, "cal-address", "mailto:bob@example.org"],
      ["categories", {}, "text", "work", "team"]
    ],
    [["valarm",
      [["action", {}, "text", "DISPLAY"], ["trigger", {"related": "END"}, "duration", "-PT10M"]],
      []
    ]]
  ]]
]`

func TestJCalToICS(t *testing.T) {
	out, err := JCalToICS([]byte(sampleJCal))
	require.NoError(t, err)

	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;UNTIL=20180131T000000Z;BYDAY=MO,WE")
	assert.Contains(t, out, "GEO:48.85;2.35")
	assert.Contains(t, out, `CATEGORIES:work,team`)

	cal, err := Parse([]byte(out))
	require.NoError(t, err)
	ev := cal.Master()
	require.NotNil(t, ev)

	assert.Equal(t, "jcal-1", ev.UID)
	assert.Equal(t, "Plan; review, ship", ev.Summary)
	assert.Equal(t, "Europe/Berlin", ev.Start.TZID)
	assert.True(t, ev.Start.Time.Equal(time.Date(2017, 12, 20, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, ev.Length())
	require.Len(t, ev.ExDates, 1)
	assert.True(t, ev.ExDates[0].IsDate)
	require.Len(t, ev.Attendees, 1)
	assert.Equal(t, "bob@example.org", ev.Attendees[0].Email)
	assert.Equal(t, "Bob", ev.Attendees[0].CN)

	require.Len(t, ev.Alarms, 1)
	assert.True(t, ev.Alarms[0].Trigger.RelatedEnd)
	assert.Equal(t, -10*time.Minute, ev.Alarms[0].Trigger.Offset)
}

func TestJCalToICS_Invalid(t *testing.T) {
	tests := []string{
		`{}`,
		`["vcalendar", []]`,
		`["vevent", [], []]`,
		`["vcalendar", [["version"]], []]`,
		`["vcalendar", [], [["vevent", [["dtstart", {}, "date-time", 12]], []]]]`,
	}
	for _, in := range tests {
		_, err := JCalToICS([]byte(in))
		assert.ErrorIs(t, err, ErrInvalidJCal, in)
	}
}

func TestNewEventICS(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 30, 0, 0, time.FixedZone("UTC+2", 2*3600))
	data, err := NewEventICS("-//ESN//Calendar//EN", NewEvent{
		UID:       "new-1",
		Summary:   "Kickoff, part 1",
		Location:  "Room A",
		Start:     start,
		End:       start.Add(45 * time.Minute),
		Class:     "private",
		Organizer: &Person{Email: "jane@example.org", CN: "Jane"},
		Attendees: []Person{
			{Email: "bob@example.org", PartStat: PartStatNeedsAction},
			{Email: "room-a@example.org", CUType: CUTypeRoom},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "BEGIN:VCALENDAR"))

	cal, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "-//ESN//Calendar//EN", cal.ProdID)

	ev := cal.Master()
	require.NotNil(t, ev)
	assert.Equal(t, "Kickoff, part 1", ev.Summary)
	assert.Equal(t, ClassPrivate, ev.Class)
	assert.True(t, ev.Start.Time.Equal(start))
	assert.Equal(t, 45*time.Minute, ev.Length())
	require.NotNil(t, ev.DTStamp)
	require.NotNil(t, ev.Organizer)
	assert.Equal(t, "Jane", ev.Organizer.CN)
	require.Len(t, ev.Attendees, 2)
	assert.True(t, ev.Attendees[1].IsResource())
}

func TestNewEventICS_AllDay(t *testing.T) {
	data, err := NewEventICS("-//ESN//Calendar//EN", NewEvent{
		UID:    "holiday",
		Start:  time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC),
		AllDay: true,
	})
	require.NoError(t, err)

	cal, err := Parse(data)
	require.NoError(t, err)
	ev := cal.Master()
	assert.True(t, ev.IsAllDay())
	assert.Equal(t, 24*time.Hour, ev.Length())
}

func TestNewEventICS_Invalid(t *testing.T) {
	_, err := NewEventICS("p", NewEvent{Start: time.Now()})
	assert.Error(t, err)

	_, err = NewEventICS("p", NewEvent{UID: "x"})
	assert.Error(t, err)

	now := time.Now()
	_, err = NewEventICS("p", NewEvent{UID: "x", Start: now, End: now.Add(-time.Hour)})
	assert.Error(t, err)
}
