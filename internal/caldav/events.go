package caldav

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"

	"github.com/google/uuid"
)

func (c *Client) GetEvent(ctx context.Context, userID, calendarID, eventUID string) (*Event, error) {
	return c.GetEventFromPath(ctx, userID, EventPath(userID, calendarID, eventUID))
}

func (c *Client) GetEventInDefaultCalendar(ctx context.Context, userID, eventUID string) (*Event, error) {
	return c.GetEvent(ctx, userID, c.defaultCalendar, eventUID)
}

// GetEventFromPath fetches one calendar object by its DAV path.
func (c *Client) GetEventFromPath(ctx context.Context, userID, path string) (*Event, error) {
	req, err := c.newRequest(ctx, userID, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := c.do(req, userID, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		drain(resp)
		return nil, &StatusError{Method: http.MethodGet, Path: path, StatusCode: resp.StatusCode}
	}

	etag := resp.Header.Get("ETag")
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	return &Event{Path: path, ETag: etag, ICal: string(body)}, nil
}

// StoreEvent writes the event with PUT. A non-empty etag is sent as If-Match.
// It returns the ETag the server assigned, which may be empty.
func (c *Client) StoreEvent(ctx context.Context, userID, calendarID, eventUID string, ics []byte, etag string) (string, error) {
	return c.put(ctx, userID, EventPath(userID, calendarID, eventUID), ics, etag, false)
}

func (c *Client) StoreEventInDefaultCalendar(ctx context.Context, userID, eventUID string, ics []byte, etag string) (string, error) {
	return c.StoreEvent(ctx, userID, c.defaultCalendar, eventUID, ics, etag)
}

// CreateEventInDefaultCalendar builds a new event and stores it without
// overwriting an existing resource. A UID is generated when none is given.
func (c *Client) CreateEventInDefaultCalendar(ctx context.Context, userID string, in ical.NewEvent) (*Event, error) {
	if in.UID == "" {
		in.UID = uuid.NewString()
	}
	data, err := ical.NewEventICS(c.prodID, in)
	if err != nil {
		return nil, err
	}

	path := EventPath(userID, c.defaultCalendar, in.UID)
	etag, err := c.put(ctx, userID, path, data, "", true)
	if err != nil {
		return nil, err
	}
	return &Event{Path: path, ETag: etag, ICal: string(data)}, nil
}

func (c *Client) put(ctx context.Context, userID, path string, ics []byte, etag string, create bool) (string, error) {
	ics, _ = ical.EnsureDTStamp(ics)

	req, err := c.newRequest(ctx, userID, http.MethodPut, path, bytes.NewReader(ics))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentTypeICS)
	switch {
	case etag != "":
		req.Header.Set("If-Match", quoteETag(etag))
	case create:
		req.Header.Set("If-None-Match", "*")
	}

	resp, err := c.do(req, userID, path)
	if err != nil {
		return "", err
	}
	drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return resp.Header.Get("ETag"), nil
	default:
		return "", &StatusError{Method: http.MethodPut, Path: path, StatusCode: resp.StatusCode}
	}
}

// DeleteEvent removes the event. A non-empty etag is sent as If-Match.
func (c *Client) DeleteEvent(ctx context.Context, userID, calendarID, eventUID, etag string) error {
	return c.DeleteEventFromPath(ctx, userID, EventPath(userID, calendarID, eventUID), etag)
}

func (c *Client) DeleteEventInDefaultCalendar(ctx context.Context, userID, eventUID, etag string) error {
	return c.DeleteEvent(ctx, userID, c.defaultCalendar, eventUID, etag)
}

func (c *Client) DeleteEventFromPath(ctx context.Context, userID, path, etag string) error {
	req, err := c.newRequest(ctx, userID, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if etag != "" {
		req.Header.Set("If-Match", quoteETag(etag))
	}

	resp, err := c.do(req, userID, path)
	if err != nil {
		return err
	}
	drain(resp)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return &StatusError{Method: http.MethodDelete, Path: path, StatusCode: resp.StatusCode}
	}
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, "W/") {
		return etag
	}
	return `"` + etag + `"`
}
