// Package alarm resolves, stores and fires VALARM notifications of calendar
// events.
package alarm

import (
	"time"

	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"
)

// NextAlarm returns the alarm instant of the first occurrence of a recurring
// event that starts strictly after lastFire, or after DTSTART when lastFire is
// nil. Excluded and overridden occurrences are skipped and COUNT/UNTIL bound
// the scan. The result is in UTC.
//
// Events without an RRULE, absolute triggers and exhausted rules report
// false.
func NextAlarm(ev *ical.Event, a *ical.Alarm, lastFire *time.Time) (time.Time, bool) {
	ref := ev.Start.Time
	if lastFire != nil {
		ref = *lastFire
	}
	due, _, ok := alarmAfter(ev, a, ref)
	return due, ok
}

// alarmAfter is NextAlarm that also returns the occurrence start.
func alarmAfter(ev *ical.Event, a *ical.Alarm, ref time.Time) (due, occurrence time.Time, ok bool) {
	if ev == nil || a == nil || !ev.IsRecurring() || a.Trigger.Absolute != nil {
		return time.Time{}, time.Time{}, false
	}
	occ, ok, err := ev.NextOccurrence(ref)
	if err != nil || !ok {
		return time.Time{}, time.Time{}, false
	}
	return a.Trigger.Instant(occ, occ.Add(ev.Length())), occ, true
}

// upcomingAlarm returns the first alarm of a recurring event that is due
// strictly after now, considering only occurrences after ref.
func upcomingAlarm(ev *ical.Event, a *ical.Alarm, ref, now time.Time) (due, occurrence time.Time, ok bool) {
	lead := a.Trigger.Offset
	if a.Trigger.RelatedEnd {
		lead += ev.Length()
	}
	// due > now holds exactly for occurrences starting after now - lead.
	if floor := now.Add(-lead); floor.After(ref) {
		ref = floor
	}
	return alarmAfter(ev, a, ref)
}

// singleAlarm returns the alarm instant of a one-shot event or override.
func singleAlarm(ev *ical.Event, a *ical.Alarm) time.Time {
	return a.Trigger.Instant(ev.Start.Time, ev.EndTime())
}
