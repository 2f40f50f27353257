package ical

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// maxOccurrenceScan bounds the number of excluded or overridden occurrences
// skipped after the reference instant.
const maxOccurrenceScan = 10000

// RecurrenceSet builds the RRULE/RDATE set of the event, anchored at DTSTART
// in the event's own zone. EXDATEs and overrides are not part of the set; see
// IsExcluded.
func (e *Event) RecurrenceSet() (*rrule.Set, error) {
	loc := e.Start.Time.Location()
	set := &rrule.Set{}

	if e.RRule != "" {
		ruleStr := strings.TrimPrefix(strings.TrimSpace(e.RRule), "RRULE:")
		opt, err := rrule.StrToROptionInLocation(ruleStr, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE %q: %w", e.RRule, err)
		}
		opt.Dtstart = e.Start.Time
		rule, err := rrule.NewRRule(*opt)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE %q: %w", e.RRule, err)
		}
		set.RRule(rule)
	} else {
		set.RDate(e.Start.Time)
	}

	for _, rd := range e.RDates {
		set.RDate(rd.Time)
	}

	return set, nil
}

// IsExcluded reports whether the occurrence starting at t is removed by an
// EXDATE or replaced by an override VEVENT. DATE-valued entries match any
// occurrence on the same calendar day.
func (e *Event) IsExcluded(t time.Time) bool {
	for _, ex := range e.ExDates {
		if matchesOccurrence(ex, t) {
			return true
		}
	}
	for _, rid := range e.Overridden {
		if matchesOccurrence(rid, t) {
			return true
		}
	}
	return false
}

func matchesOccurrence(d DateTime, t time.Time) bool {
	if d.IsDate {
		return t.Format(dateFormat) == d.Time.Format(dateFormat)
	}
	return d.Time.Equal(t)
}

// NextOccurrence returns the start of the first occurrence strictly after
// the given instant that is neither excluded nor overridden.
func (e *Event) NextOccurrence(after time.Time) (time.Time, bool, error) {
	set, err := e.RecurrenceSet()
	if err != nil {
		return time.Time{}, false, err
	}

	t := set.After(after, false)
	for skipped := 0; !t.IsZero(); skipped++ {
		if !e.IsExcluded(t) {
			return t, true, nil
		}
		if skipped >= maxOccurrenceScan {
			break
		}
		t = set.After(t, false)
	}
	return time.Time{}, false, nil
}
