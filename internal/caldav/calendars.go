package caldav

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
)

type Calendar struct {
	ID          string
	Href        string
	Name        string
	Description string
	Color       string
}

type calendarItem struct {
	Links struct {
		Self link `json:"self"`
	} `json:"_links"`
	Name        string `json:"dav:name"`
	Description string `json:"caldav:description"`
	Color       string `json:"apple:color"`
}

type calendarList struct {
	Embedded struct {
		Calendars []calendarItem `json:"dav:calendar"`
	} `json:"_embedded"`
}

// ListCalendars returns the calendars of the user's calendar home.
func (c *Client) ListCalendars(ctx context.Context, userID string) ([]Calendar, error) {
	p := EventPath(userID, "", "") + ".json"
	req, err := c.newRequest(ctx, userID, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.do(req, userID, p)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return nil, &StatusError{Method: http.MethodGet, Path: p, StatusCode: resp.StatusCode}
	}

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	var list calendarList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode calendar list: %w", err)
	}

	out := make([]Calendar, 0, len(list.Embedded.Calendars))
	for _, item := range list.Embedded.Calendars {
		href := item.Links.Self.Href
		out = append(out, Calendar{
			ID:          strings.TrimSuffix(path.Base(href), ".json"),
			Href:        href,
			Name:        item.Name,
			Description: item.Description,
			Color:       item.Color,
		})
	}
	return out, nil
}
