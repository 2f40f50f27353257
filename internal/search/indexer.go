package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/caldav"
	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
	"github.com/sonroyaalmerol/esn-calendar/pkg/ical"

	"github.com/rs/zerolog"
)

// EventFetcher is the part of the CalDAV client the indexer needs.
type EventFetcher interface {
	GetMultipleEventsFromPaths(ctx context.Context, userID string, paths []string) ([]caldav.Event, error)
}

type Indexer struct {
	store   storage.EventIndex
	fetcher EventFetcher
	logger  zerolog.Logger
}

func NewIndexer(store storage.EventIndex, fetcher EventFetcher, logger zerolog.Logger) *Indexer {
	return &Indexer{store: store, fetcher: fetcher, logger: logger}
}

// IndexResult summarizes an IndexPaths run.
type IndexResult struct {
	Requested int
	Fetched   int
	Events    int
	Records   int
	Failed    []string
}

// IndexEvent replaces the indexed records of one event with its master and
// every override. It returns the number of records written.
func (ix *Indexer) IndexEvent(ctx context.Context, userID, calendarID, ics string) (int, error) {
	cal, err := ical.Parse([]byte(ics))
	if err != nil {
		return 0, err
	}
	master := cal.Master()
	if master == nil {
		return 0, ical.ErrNoEvent
	}

	in := Input{ICS: ics, UserID: userID, CalendarID: calendarID, UID: master.UID}

	var records []*Record
	if !master.IsOverride() {
		rec, err := denormalizeCalendar(cal, in)
		if err != nil {
			return 0, err
		}
		records = append(records, rec)
	}
	for _, ov := range cal.Overrides() {
		if ov.UID != master.UID {
			continue
		}
		records = append(records, flatten(ov, in))
	}

	if err := ix.store.DeleteIndexedEvents(ctx, userID, calendarID, master.UID); err != nil {
		return 0, fmt.Errorf("clear indexed event %s: %w", master.UID, err)
	}
	for _, rec := range records {
		row, err := toIndexed(rec)
		if err != nil {
			return 0, err
		}
		if err := ix.store.PutIndexedEvent(ctx, row); err != nil {
			return 0, fmt.Errorf("index event %s: %w", master.UID, err)
		}
	}

	ix.logger.Debug().
		Str("user", userID).
		Str("calendar", calendarID).
		Str("uid", master.UID).
		Int("records", len(records)).
		Msg("indexed event")
	return len(records), nil
}

// IndexPaths fetches the given event paths in one batch and indexes every
// event the server returned. Per-event failures are collected, not returned.
func (ix *Indexer) IndexPaths(ctx context.Context, userID string, paths []string) (*IndexResult, error) {
	res := &IndexResult{Requested: len(paths)}

	events, err := ix.fetcher.GetMultipleEventsFromPaths(ctx, userID, paths)
	if err != nil {
		return nil, err
	}
	res.Fetched = len(events)

	for _, ev := range events {
		_, calendarID, _, ok := caldav.ParseEventPath(ev.Path)
		if !ok {
			ix.logger.Warn().Str("path", ev.Path).Msg("cannot derive calendar from event path")
			res.Failed = append(res.Failed, ev.Path)
			continue
		}
		n, err := ix.IndexEvent(ctx, userID, calendarID, ev.ICal)
		if err != nil {
			ix.logger.Warn().Err(err).Str("path", ev.Path).Msg("failed to index event")
			res.Failed = append(res.Failed, ev.Path)
			continue
		}
		res.Events++
		res.Records += n
	}

	if res.Fetched < res.Requested {
		ix.logger.Info().
			Int("requested", res.Requested).
			Int("fetched", res.Fetched).
			Msg("some event paths were not returned by the DAV server")
	}
	return res, nil
}

func (ix *Indexer) RemoveEvent(ctx context.Context, userID, calendarID, uid string) error {
	return ix.store.DeleteIndexedEvents(ctx, userID, calendarID, uid)
}

// Search returns the denormalized records matching q.
func (ix *Indexer) Search(ctx context.Context, q storage.SearchQuery) ([]Record, error) {
	rows, err := ix.store.SearchIndexedEvents(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		var rec Record
		if err := json.Unmarshal(row.Document, &rec); err != nil {
			return nil, fmt.Errorf("decode indexed event %s: %w", row.UID, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toIndexed(rec *Record) (*storage.IndexedEvent, error) {
	doc, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(isoFormat, rec.Start)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(isoFormat, rec.End)
	if err != nil {
		return nil, err
	}
	return &storage.IndexedEvent{
		UserID:       rec.UserID,
		CalendarID:   rec.CalendarID,
		UID:          rec.UID,
		RecurrenceID: rec.RecurrenceID,
		Summary:      rec.Summary,
		Description:  rec.Description,
		Location:     rec.Location,
		Start:        start,
		End:          end,
		Document:     doc,
	}, nil
}
