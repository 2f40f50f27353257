package alarm

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(s string) string {
	return strings.ReplaceAll(strings.TrimLeft(s, "\n"), "\n", "\r\n")
}

// eventICS wraps VEVENT lines into a calendar with a -PT10M alarm unless the
// lines carry their own VALARM.
func eventICS(lines ...string) string {
	body := strings.Join(lines, "\n")
	if !strings.Contains(body, "BEGIN:VALARM") {
		body += "\nBEGIN:VALARM\nACTION:DISPLAY\nTRIGGER:-PT10M\nDESCRIPTION:soon\nEND:VALARM"
	}
	return crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:ev-1
DTSTAMP:20240101T000000Z
` + body + `
END:VEVENT
END:VCALENDAR
`)
}

func parse(t *testing.T, ics string) (*ical.Calendar, *ical.Event, *ical.Alarm) {
	t.Helper()
	cal, err := ical.Parse([]byte(ics))
	require.NoError(t, err)
	ev := cal.Master()
	require.NotNil(t, ev)
	require.NotEmpty(t, ev.Alarms)
	return cal, ev, ev.Alarms[0]
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestNextAlarm_BerlinDaily(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART;TZID=Europe/Berlin:20171220T140000",
		"DTEND;TZID=Europe/Berlin:20171220T150000",
		"RRULE:FREQ=DAILY",
		"BEGIN:VALARM",
		"ACTION:EMAIL",
		"TRIGGER:-PT5M",
		"SUMMARY:Reminder",
		"DESCRIPTION:soon",
		"ATTENDEE:mailto:jane@example.org",
		"END:VALARM",
	))

	got, ok := NextAlarm(ev, a, nil)
	require.True(t, ok)
	assert.Equal(t, "2017-12-21T12:55:00Z", got.Format(time.RFC3339))

	got, ok = NextAlarm(ev, a, at("2017-12-22T12:55:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2017-12-22T12:55:00Z", got.Format(time.RFC3339))
	assert.Equal(t, time.UTC, got.Location())

	// Summer time shifts the UTC instant, not the local wall clock.
	got, ok = NextAlarm(ev, a, at("2018-07-01T00:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2018-07-01T11:55:00Z", got.Format(time.RFC3339))
}

func TestNextAlarm_Count(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY;COUNT=5",
	))

	got, ok := NextAlarm(ev, a, at("2024-01-04T09:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-05T08:50:00Z", got.Format(time.RFC3339))

	_, ok = NextAlarm(ev, a, at("2024-01-05T09:00:00Z"))
	assert.False(t, ok)

	_, ok = NextAlarm(ev, a, at("2024-02-01T00:00:00Z"))
	assert.False(t, ok)
}

func TestNextAlarm_Until(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY;UNTIL=20240105T090000Z",
	))

	got, ok := NextAlarm(ev, a, at("2024-01-04T09:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-05T08:50:00Z", got.Format(time.RFC3339))

	for _, last := range []string{"2024-01-05T09:00:00Z", "2024-01-05T12:00:00Z", "2025-01-01T00:00:00Z"} {
		_, ok = NextAlarm(ev, a, at(last))
		assert.False(t, ok, last)
	}
}

func TestNextAlarm_SkipsExceptions(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY",
		"EXDATE:20240103T090000Z",
	))

	got, ok := NextAlarm(ev, a, at("2024-01-02T09:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-04T08:50:00Z", got.Format(time.RFC3339))
}

func TestNextAlarm_SkipsOverriddenOccurrence(t *testing.T) {
	ics := crlf(`
BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//EN
BEGIN:VEVENT
UID:ev-1
DTSTAMP:20240101T000000Z
DTSTART:20240101T090000Z
DTEND:20240101T100000Z
RRULE:FREQ=DAILY
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-PT10M
DESCRIPTION:soon
END:VALARM
END:VEVENT
BEGIN:VEVENT
UID:ev-1
DTSTAMP:20240101T000000Z
RECURRENCE-ID:20240102T090000Z
DTSTART:20240102T150000Z
DTEND:20240102T160000Z
END:VEVENT
END:VCALENDAR
`)
	_, ev, a := parse(t, ics)

	got, ok := NextAlarm(ev, a, nil)
	require.True(t, ok)
	assert.Equal(t, "2024-01-03T08:50:00Z", got.Format(time.RFC3339))
}

func TestNextAlarm_RelatedEnd(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=WEEKLY",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER;RELATED=END:-PT5M",
		"DESCRIPTION:ending",
		"END:VALARM",
	))

	got, ok := NextAlarm(ev, a, nil)
	require.True(t, ok)
	assert.Equal(t, "2024-01-08T09:55:00Z", got.Format(time.RFC3339))
}

func TestNextAlarm_NoRepeat(t *testing.T) {
	t.Run("not recurring", func(t *testing.T) {
		_, ev, a := parse(t, eventICS(
			"DTSTART:20240101T090000Z",
			"DTEND:20240101T100000Z",
		))
		_, ok := NextAlarm(ev, a, nil)
		assert.False(t, ok)
		_, ok = NextAlarm(ev, a, at("2023-01-01T00:00:00Z"))
		assert.False(t, ok)
	})

	t.Run("absolute trigger", func(t *testing.T) {
		_, ev, a := parse(t, eventICS(
			"DTSTART:20240101T090000Z",
			"RRULE:FREQ=DAILY",
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"TRIGGER;VALUE=DATE-TIME:20240101T080000Z",
			"DESCRIPTION:once",
			"END:VALARM",
		))
		_, ok := NextAlarm(ev, a, nil)
		assert.False(t, ok)
	})

	t.Run("nil inputs", func(t *testing.T) {
		_, ok := NextAlarm(nil, nil, nil)
		assert.False(t, ok)
	})
}

func TestUpcomingAlarm(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"RRULE:FREQ=DAILY",
	))
	start := ev.Start.Time.Add(-time.Nanosecond)

	due, occ, ok := upcomingAlarm(ev, a, start, *at("2023-12-31T00:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T08:50:00Z", due.Format(time.RFC3339))
	assert.Equal(t, "2024-01-01T09:00:00Z", occ.Format(time.RFC3339))

	// 08:55 is past the 08:50 alarm of that day.
	due, occ, ok = upcomingAlarm(ev, a, start, *at("2024-01-10T08:55:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-11T08:50:00Z", due.Format(time.RFC3339))
	assert.Equal(t, "2024-01-11T09:00:00Z", occ.Format(time.RFC3339))

	due, _, ok = upcomingAlarm(ev, a, start, *at("2024-01-10T08:49:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-10T08:50:00Z", due.Format(time.RFC3339))
}

func TestNextAlarm_LongRunningMinutelyRule(t *testing.T) {
	_, ev, a := parse(t, eventICS(
		"DTSTART;TZID=Europe/Berlin:20250101T000000",
		"RRULE:FREQ=MINUTELY",
		"BEGIN:VALARM",
		"ACTION:DISPLAY",
		"TRIGGER:-PT5S",
		"DESCRIPTION:soon",
		"END:VALARM",
	))

	got, ok := NextAlarm(ev, a, at("2026-10-17T00:00:00Z"))
	require.True(t, ok)
	assert.Equal(t, "2026-10-17T00:00:55Z", got.Format(time.RFC3339))
}
