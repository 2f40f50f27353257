package caldav

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"
)

type multigetRequest struct {
	EventPaths []string `json:"eventPaths"`
}

type link struct {
	Href string `json:"href"`
}

type multigetItem struct {
	Links struct {
		Self link `json:"self"`
	} `json:"_links"`
	ETag   string          `json:"etag"`
	Data   json.RawMessage `json:"data"`
	Status json.RawMessage `json:"status"`
}

type multigetResponse struct {
	Embedded struct {
		Items []multigetItem `json:"dav:item"`
	} `json:"_embedded"`
}

// GetMultipleEventsFromPaths fetches several events in one REPORT request.
//
// Only items the server reports with status 200 are returned. Any other item
// (typically 404 for a path that no longer exists) is left out without an
// error, so the result may be shorter than paths; callers that need to know
// which paths failed must compare the returned paths, or use
// WithDroppedItemHook. Transport, token and decoding failures, and a non-2xx
// answer for the whole request, are returned as errors. There are no retries.
func (c *Client) GetMultipleEventsFromPaths(ctx context.Context, userID string, paths []string) ([]Event, error) {
	if len(paths) == 0 {
		return []Event{}, nil
	}

	body, err := json.Marshal(multigetRequest{EventPaths: paths})
	if err != nil {
		return nil, err
	}

	const path = "/calendars"
	req, err := c.newRequest(ctx, userID, "REPORT", path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.do(req, userID, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp)
		return nil, &StatusError{Method: "REPORT", Path: path, StatusCode: resp.StatusCode}
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read multiget response: %w", err)
	}
	var out multigetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode multiget response: %w", err)
	}

	events := make([]Event, 0, len(out.Embedded.Items))
	for _, item := range out.Embedded.Items {
		href := item.Links.Self.Href

		status, ok := parseItemStatus(item.Status)
		if !ok || status != http.StatusOK {
			c.drop(DroppedItem{Path: href, Status: status, Reason: "status"})
			continue
		}

		ics, err := itemCalendarData(item.Data)
		if err != nil {
			c.drop(DroppedItem{Path: href, Status: status, Reason: err.Error()})
			continue
		}

		events = append(events, Event{Path: href, ETag: item.ETag, ICal: ics})
	}

	return events, nil
}

func (c *Client) drop(item DroppedItem) {
	c.logger.Debug().
		Str("path", item.Path).
		Int("status", item.Status).
		Str("reason", item.Reason).
		Msg("dropping multiget item")
	if c.onDropped != nil {
		c.onDropped(item)
	}
}

// parseItemStatus accepts a numeric status or an HTTP status line such as
// "HTTP/1.1 404 Not Found".
func parseItemStatus(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	fields := strings.Fields(s)
	for i, f := range fields {
		if strings.HasPrefix(strings.ToUpper(f), "HTTP/") && i+1 < len(fields) {
			f = fields[i+1]
		} else if i > 0 {
			break
		}
		if code, err := strconv.Atoi(f); err == nil {
			return code, true
		}
	}
	return 0, false
}

// itemCalendarData returns ICS text for an item payload that is either a
// jCal array or an ICS string.
func itemCalendarData(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing calendar data")
	}
	if raw[0] == '[' {
		return ical.JCalToICS(raw)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("unexpected calendar data: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("empty calendar data")
	}
	return s, nil
}
