package ical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
)

var ErrInvalidJCal = errors.New("ical: invalid jCal")

// recurParts is the RFC 5545 order of RECUR value parts.
var recurParts = []string{
	"freq", "until", "count", "interval",
	"bysecond", "byminute", "byhour", "byday", "bymonthday",
	"byyearday", "byweekno", "bymonth", "bysetpos", "wkst",
}

// JCalToICS converts a jCal (RFC 7265) document into iCalendar text.
func JCalToICS(data []byte) (string, error) {
	var root []json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJCal, err)
	}

	comp, err := jcalComponent(root)
	if err != nil {
		return "", err
	}
	if comp.Name != ical.CompCalendar {
		return "", fmt.Errorf("%w: root component is %s", ErrInvalidJCal, comp.Name)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(&ical.Calendar{Component: comp}); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func jcalComponent(raw []json.RawMessage) (*ical.Component, error) {
	if len(raw) != 3 {
		return nil, fmt.Errorf("%w: component needs 3 members, got %d", ErrInvalidJCal, len(raw))
	}

	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return nil, fmt.Errorf("%w: component name: %v", ErrInvalidJCal, err)
	}
	comp := ical.NewComponent(strings.ToUpper(name))

	var props [][]json.RawMessage
	if err := json.Unmarshal(raw[1], &props); err != nil {
		return nil, fmt.Errorf("%w: %s properties: %v", ErrInvalidJCal, name, err)
	}
	for _, p := range props {
		prop, err := jcalProperty(p)
		if err != nil {
			return nil, err
		}
		comp.Props.Add(prop)
	}

	var children [][]json.RawMessage
	if err := json.Unmarshal(raw[2], &children); err != nil {
		return nil, fmt.Errorf("%w: %s subcomponents: %v", ErrInvalidJCal, name, err)
	}
	for _, c := range children {
		child, err := jcalComponent(c)
		if err != nil {
			return nil, err
		}
		comp.Children = append(comp.Children, child)
	}

	return comp, nil
}

func jcalProperty(raw []json.RawMessage) (*ical.Prop, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: property needs at least 4 members", ErrInvalidJCal)
	}

	var name, typ string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return nil, fmt.Errorf("%w: property name: %v", ErrInvalidJCal, err)
	}
	if err := json.Unmarshal(raw[2], &typ); err != nil {
		return nil, fmt.Errorf("%w: %s value type: %v", ErrInvalidJCal, name, err)
	}

	prop := ical.NewProp(strings.ToUpper(name))
	typ = strings.ToLower(typ)

	var params map[string]any
	if err := json.Unmarshal(raw[1], &params); err != nil {
		return nil, fmt.Errorf("%w: %s parameters: %v", ErrInvalidJCal, name, err)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		prop.Params[strings.ToUpper(k)] = paramValues(params[k])
	}

	switch {
	case typ == "date":
		prop.Params.Set(ical.ParamValue, "DATE")
	case typ == "date-time" && prop.Name == ical.PropTrigger:
		prop.Params.Set(ical.ParamValue, "DATE-TIME")
	case typ == "period":
		prop.Params.Set(ical.ParamValue, "PERIOD")
	}

	values := make([]string, 0, len(raw)-3)
	for _, v := range raw[3:] {
		s, err := jcalValue(prop.Name, typ, v)
		if err != nil {
			return nil, err
		}
		values = append(values, s)
	}
	prop.Value = strings.Join(values, ",")

	return prop, nil
}

func paramValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

func jcalValue(prop, typ string, raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%w: %s value: %v", ErrInvalidJCal, prop, err)
	}

	switch typ {
	case "date", "date-time":
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("%w: %s expects a string", ErrInvalidJCal, prop)
		}
		return compactDate(s), nil
	case "period":
		parts, ok := v.([]any)
		if !ok || len(parts) != 2 {
			return "", fmt.Errorf("%w: %s expects a [start, end] period", ErrInvalidJCal, prop)
		}
		start, _ := parts[0].(string)
		end, _ := parts[1].(string)
		if !strings.HasPrefix(end, "P") && !strings.HasPrefix(end, "-P") && !strings.HasPrefix(end, "+P") {
			end = compactDate(end)
		}
		return compactDate(start) + "/" + end, nil
	case "utc-offset":
		s, _ := v.(string)
		return strings.ReplaceAll(s, ":", ""), nil
	case "recur":
		m, ok := v.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %s expects a recur object", ErrInvalidJCal, prop)
		}
		return recurValue(m), nil
	case "boolean":
		if b, ok := v.(bool); ok && b {
			return "TRUE", nil
		}
		return "FALSE", nil
	case "text":
		switch t := v.(type) {
		case string:
			return escapeText(t), nil
		case []any:
			// structured values such as REQUEST-STATUS
			parts := make([]string, 0, len(t))
			for _, e := range t {
				parts = append(parts, escapeText(fmt.Sprint(e)))
			}
			return strings.Join(parts, ";"), nil
		}
	}

	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case []any:
		// GEO
		parts := make([]string, 0, len(t))
		for _, e := range t {
			if f, ok := e.(float64); ok {
				parts = append(parts, strconv.FormatFloat(f, 'f', -1, 64))
			} else {
				parts = append(parts, fmt.Sprint(e))
			}
		}
		return strings.Join(parts, ";"), nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(t), nil
	}
}

func recurValue(m map[string]any) string {
	var parts []string
	for _, key := range recurParts {
		v, ok := m[key]
		if !ok {
			continue
		}
		var s string
		switch t := v.(type) {
		case []any:
			vals := make([]string, 0, len(t))
			for _, e := range t {
				vals = append(vals, recurScalar(e))
			}
			s = strings.Join(vals, ",")
		default:
			s = recurScalar(t)
		}
		if key == "until" {
			s = compactDate(s)
		}
		parts = append(parts, strings.ToUpper(key)+"="+s)
	}
	return strings.Join(parts, ";")
}

func recurScalar(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// compactDate turns "2017-12-20T14:00:00Z" into "20171220T140000Z".
func compactDate(s string) string {
	return strings.NewReplacer("-", "", ":", "").Replace(s)
}

func escapeText(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\r\n", `\n`,
		"\n", `\n`,
	).Replace(s)
}
