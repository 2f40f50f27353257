// Package caldav talks to the ESN DAV server on behalf of platform users.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	tokenHeader     = "ESNToken"
	contentTypeJSON = "application/json"
	contentTypeICS  = "text/calendar; charset=utf-8"
	maxResponseSize = 32 << 20
)

// TokenProvider issues the per-user token sent in the ESNToken header.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (string, error)
}

// tokenInvalidator is implemented by providers that cache tokens.
type tokenInvalidator interface {
	Invalidate(userID string)
}

// Event is a calendar object resource as fetched from the DAV server.
type Event struct {
	Path string
	ETag string
	ICal string
}

// DroppedItem describes a multi-get entry left out of the result.
type DroppedItem struct {
	Path   string
	Status int
	Reason string
}

type Client struct {
	baseURL         string
	httpClient      *http.Client
	tokens          TokenProvider
	logger          zerolog.Logger
	defaultCalendar string
	prodID          string
	onDropped       func(DroppedItem)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithDefaultCalendar(id string) Option {
	return func(c *Client) { c.defaultCalendar = id }
}

func WithProdID(prodID string) Option {
	return func(c *Client) { c.prodID = prodID }
}

// WithDroppedItemHook registers a callback receiving every multi-get item
// whose status is not 200.
func WithDroppedItemHook(fn func(DroppedItem)) Option {
	return func(c *Client) { c.onDropped = fn }
}

func NewClient(baseURL string, tokens TokenProvider, logger zerolog.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid DAV url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid DAV url %q: scheme must be http or https", baseURL)
	}
	if tokens == nil {
		return nil, errors.New("token provider is required")
	}

	c := &Client{
		baseURL:         strings.TrimRight(u.String(), "/"),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		tokens:          tokens,
		logger:          logger,
		defaultCalendar: "events",
		prodID:          "-//Linagora//ESN Calendar//EN",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) DefaultCalendar() string { return c.defaultCalendar }

// EventPath builds the DAV path of a calendar home, a calendar, or an event
// depending on which identifiers are set.
func EventPath(userID, calendarID, eventUID string) string {
	p := "/calendars/" + url.PathEscape(userID)
	if calendarID == "" {
		return p
	}
	p += "/" + url.PathEscape(calendarID)
	if eventUID == "" {
		return p
	}
	return p + "/" + url.PathEscape(eventUID) + ".ics"
}

// ParseEventPath splits an event path built by EventPath. Any prefix before
// "/calendars/" is ignored.
func ParseEventPath(p string) (userID, calendarID, eventUID string, ok bool) {
	i := strings.Index(p, "/calendars/")
	if i < 0 {
		return "", "", "", false
	}
	parts := strings.Split(strings.Trim(p[i+len("/calendars/"):], "/"), "/")
	if len(parts) != 3 || !strings.HasSuffix(parts[2], ".ics") {
		return "", "", "", false
	}

	var err error
	if userID, err = url.PathUnescape(parts[0]); err != nil {
		return "", "", "", false
	}
	if calendarID, err = url.PathUnescape(parts[1]); err != nil {
		return "", "", "", false
	}
	if eventUID, err = url.PathUnescape(strings.TrimSuffix(parts[2], ".ics")); err != nil {
		return "", "", "", false
	}
	return userID, calendarID, eventUID, userID != "" && calendarID != "" && eventUID != ""
}

// StatusError is returned when the DAV server answers with an unexpected
// status code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("caldav: %s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// IsStatus reports whether err is a StatusError carrying code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func (c *Client) newRequest(ctx context.Context, userID, method, path string, body io.Reader) (*http.Request, error) {
	token, err := c.tokens.Token(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get token for %s: %w", userID, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(tokenHeader, token)
	return req, nil
}

// do sends req. A 401 drops the cached token of userID so the next request
// signs a fresh one.
func (c *Client) do(req *http.Request, userID, path string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).
			Str("method", req.Method).
			Str("path", path).
			Msg("DAV request failed")
		return nil, fmt.Errorf("caldav: %s %s: %w", req.Method, path, err)
	}
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("DAV request")
	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := c.tokens.(tokenInvalidator); ok {
			c.logger.Warn().Str("user", userID).Str("path", path).Msg("DAV rejected token, invalidating")
			inv.Invalidate(userID)
		}
	}
	return resp, nil
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
	_ = resp.Body.Close()
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}
