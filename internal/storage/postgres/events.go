package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
)

func (s *Store) PutIndexedEvent(ctx context.Context, ev *storage.IndexedEvent) error {
	ev.UpdatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
        insert into indexed_events (
          user_id, calendar_id, uid, recurrence_id, summary, description, location,
          start_at, end_at, document, updated_at
        ) values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        on conflict (user_id, calendar_id, uid, recurrence_id) do update set
          summary = excluded.summary,
          description = excluded.description,
          location = excluded.location,
          start_at = excluded.start_at,
          end_at = excluded.end_at,
          document = excluded.document,
          updated_at = excluded.updated_at
    `, ev.UserID, ev.CalendarID, ev.UID, ev.RecurrenceID, ev.Summary, ev.Description, ev.Location,
		ev.Start.UTC(), ev.End.UTC(), ev.Document, ev.UpdatedAt)
	return err
}

func (s *Store) DeleteIndexedEvents(ctx context.Context, userID, calendarID, uid string) error {
	_, err := s.pool.Exec(ctx, `
        delete from indexed_events
        where user_id = $1 and calendar_id = $2 and uid = $3
    `, userID, calendarID, uid)
	return err
}

func (s *Store) SearchIndexedEvents(ctx context.Context, q storage.SearchQuery) ([]*storage.IndexedEvent, error) {
	q = q.Normalize()

	calendarIDs := q.CalendarIDs
	if calendarIDs == nil {
		calendarIDs = []string{}
	}
	text := strings.TrimSpace(q.Text)

	rows, err := s.pool.Query(ctx, `
        select user_id, calendar_id, uid, recurrence_id, summary, description, location,
               start_at, end_at, document, updated_at
        from indexed_events
        where user_id = $1
          and (coalesce(cardinality($2::text[]), 0) = 0 or calendar_id = any($2::text[]))
          and ($3::text = '' or summary ilike $4 or description ilike $4 or location ilike $4)
        order by start_at, uid, recurrence_id
        limit $5 offset $6
    `, q.UserID, calendarIDs, text, likePattern(text), q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.IndexedEvent
	for rows.Next() {
		var ev storage.IndexedEvent
		if err := rows.Scan(
			&ev.UserID, &ev.CalendarID, &ev.UID, &ev.RecurrenceID, &ev.Summary, &ev.Description, &ev.Location,
			&ev.Start, &ev.End, &ev.Document, &ev.UpdatedAt,
		); err != nil {
			return nil, err
		}
		ev.Start, ev.End = ev.Start.UTC(), ev.End.UTC()
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(text) + "%"
}
