package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"
)

func (s *Store) PutIndexedEvent(ctx context.Context, ev *storage.IndexedEvent) error {
	ev.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexed_events (
			user_id, calendar_id, uid, recurrence_id, summary, description, location,
			start_at, end_at, document, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, calendar_id, uid, recurrence_id) DO UPDATE SET
			summary = excluded.summary,
			description = excluded.description,
			location = excluded.location,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			document = excluded.document,
			updated_at = excluded.updated_at
	`, ev.UserID, ev.CalendarID, ev.UID, ev.RecurrenceID, ev.Summary, ev.Description, ev.Location,
		toMillis(ev.Start), toMillis(ev.End), string(ev.Document), toMillis(ev.UpdatedAt))
	return err
}

func (s *Store) DeleteIndexedEvents(ctx context.Context, userID, calendarID, uid string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM indexed_events
		WHERE user_id = ? AND calendar_id = ? AND uid = ?
	`, userID, calendarID, uid)
	return err
}

func (s *Store) SearchIndexedEvents(ctx context.Context, q storage.SearchQuery) ([]*storage.IndexedEvent, error) {
	q = q.Normalize()

	var sb strings.Builder
	args := []any{q.UserID}
	sb.WriteString(`
		SELECT user_id, calendar_id, uid, recurrence_id, summary, description, location,
			start_at, end_at, document, updated_at
		FROM indexed_events
		WHERE user_id = ?`)

	if len(q.CalendarIDs) > 0 {
		sb.WriteString(` AND calendar_id IN (`)
		sb.WriteString(strings.TrimSuffix(strings.Repeat("?,", len(q.CalendarIDs)), ","))
		sb.WriteString(`)`)
		for _, id := range q.CalendarIDs {
			args = append(args, id)
		}
	}

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := likePattern(text)
		sb.WriteString(` AND (lower(summary) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\' OR lower(location) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern)
	}

	sb.WriteString(` ORDER BY start_at, uid, recurrence_id LIMIT ? OFFSET ?`)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*storage.IndexedEvent
	for rows.Next() {
		var ev storage.IndexedEvent
		var start, end, updated int64
		var doc string
		if err := rows.Scan(
			&ev.UserID, &ev.CalendarID, &ev.UID, &ev.RecurrenceID, &ev.Summary, &ev.Description, &ev.Location,
			&start, &end, &doc, &updated,
		); err != nil {
			return nil, err
		}
		ev.Start = fromMillis(start)
		ev.End = fromMillis(end)
		ev.UpdatedAt = fromMillis(updated)
		ev.Document = []byte(doc)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func likePattern(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(text)) + "%"
}
