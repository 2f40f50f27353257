package ical

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
)

const (
	dateFormat          = "20060102"
	localDateTimeFormat = "20060102T150405"
	utcDateTimeFormat   = "20060102T150405Z"
)

var locationCache sync.Map

// resolver maps TZIDs to locations using the VTIMEZONEs of one calendar.
type resolver struct {
	zones map[string]*Timezone
}

func (r *resolver) dateTime(prop *ical.Prop) (DateTime, error) {
	values, err := r.dateTimes(prop)
	if err != nil {
		return DateTime{}, err
	}
	if len(values) == 0 {
		return DateTime{}, fmt.Errorf("empty %s value", prop.Name)
	}
	return values[0], nil
}

func (r *resolver) dateTimes(prop *ical.Prop) ([]DateTime, error) {
	isDate := strings.EqualFold(prop.Params.Get(ical.ParamValue), "DATE")
	tzid := prop.Params.Get(ical.ParamTimezoneID)

	var loc *time.Location
	if tzid != "" {
		loc = r.location(tzid)
	}

	var out []DateTime
	for _, part := range strings.Split(prop.Value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dt, err := parseDateValue(part, tzid, loc, isDate)
		if err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, nil
}

func (r *resolver) location(tzid string) *time.Location {
	if loc := LoadLocation(tzid); loc != nil {
		return loc
	}
	if tz, ok := r.zones[tzid]; ok && tz.Location != "" {
		if loc := LoadLocation(tz.Location); loc != nil {
			return loc
		}
	}
	return time.UTC
}

// parseDateValue reads one DATE or DATE-TIME value. The TZID is resolved by
// the caller, so the value is parsed without its parameters.
func parseDateValue(v, tzid string, loc *time.Location, isDate bool) (DateTime, error) {
	prop := ical.NewProp(ical.PropDateTimeStart)
	prop.Value = v

	switch {
	case isDate || len(v) == len(dateFormat):
		prop.SetValueType(ical.ValueDate)
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date %q: %w", v, err)
		}
		return DateTime{Time: t, IsDate: true}, nil
	case len(v) != len(localDateTimeFormat) && len(v) != len(utcDateTimeFormat):
		return DateTime{}, fmt.Errorf("invalid date-time %q", v)
	}

	prop.SetValueType(ical.ValueDateTime)
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date-time %q: %w", v, err)
		}
		return DateTime{Time: t}, nil
	case loc != nil:
		t, err := prop.DateTime(loc)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date-time %q: %w", v, err)
		}
		return DateTime{Time: t, TZID: tzid}, nil
	default:
		t, err := prop.DateTime(time.UTC)
		if err != nil {
			return DateTime{}, fmt.Errorf("invalid date-time %q: %w", v, err)
		}
		return DateTime{Time: t, Floating: true}, nil
	}
}

// LoadLocation resolves a TZID to an IANA location. Vendor-prefixed ids such
// as "/freeassociation.sourceforge.net/Tzfile/Europe/Berlin" are matched on
// their trailing segments. Returns nil when nothing matches.
func LoadLocation(tzid string) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if tzid == "" {
		return nil
	}
	if v, ok := locationCache.Load(tzid); ok {
		return v.(*time.Location)
	}

	parts := strings.Split(strings.Trim(tzid, "/"), "/")
	for i := range parts {
		name := strings.Join(parts[i:], "/")
		if name == "" || name == "Local" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			locationCache.Store(tzid, loc)
			return loc
		}
	}
	return nil
}
