package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/storage"

	"github.com/google/uuid"
)

const alarmColumns = `id, user_id, event_path, event_uid, recurrence_id, alarm_index,
	action, attendee, due_date, occurrence_start, state, created_at, updated_at`

func (s *Store) CreateAlarm(ctx context.Context, a *storage.Alarm) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.State == "" {
		a.State = storage.AlarmWaiting
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alarms (
			id, user_id, event_path, event_uid, recurrence_id, alarm_index,
			action, attendee, due_date, occurrence_start, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.EventPath, a.EventUID, a.RecurrenceID, a.AlarmIndex,
		a.Action, a.Attendee, toMillis(a.DueDate), toMillis(a.OccurrenceStart), string(a.State),
		toMillis(now), toMillis(now))
	return err
}

func (s *Store) ClaimDueAlarms(ctx context.Context, now time.Time, limit int) ([]*storage.Alarm, error) {
	if limit <= 0 {
		return nil, nil
	}

	var claimed []*storage.Alarm
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT `+alarmColumns+`
			FROM alarms
			WHERE state = 'waiting' AND due_date <= ?
			ORDER BY due_date, id
			LIMIT ?
		`, toMillis(now), limit)
		if err != nil {
			return err
		}
		alarms, err := scanAlarms(rows)
		if err != nil {
			return err
		}
		if len(alarms) == 0 {
			return nil
		}

		ids := make([]any, 0, len(alarms)+1)
		updated := time.Now().UTC()
		ids = append(ids, toMillis(updated))
		for _, a := range alarms {
			ids = append(ids, a.ID)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(alarms)), ",")
		if _, err := tx.ExecContext(ctx, `
			UPDATE alarms SET state = 'running', updated_at = ?
			WHERE id IN (`+placeholders+`)
		`, ids...); err != nil {
			return err
		}

		for _, a := range alarms {
			a.State = storage.AlarmRunning
			a.UpdatedAt = updated
		}
		claimed = alarms
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *Store) UpdateAlarmState(ctx context.Context, id string, state storage.AlarmState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alarms SET state = ?, updated_at = ?
		WHERE id = ?
	`, string(state), toMillis(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListAlarmsByEvent(ctx context.Context, eventPath string) ([]*storage.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alarmColumns+`
		FROM alarms
		WHERE event_path = ?
		ORDER BY due_date, alarm_index
	`, eventPath)
	if err != nil {
		return nil, err
	}
	return scanAlarms(rows)
}

func (s *Store) DeleteAlarmsByEvent(ctx context.Context, eventPath string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM alarms
		WHERE event_path = ? AND state <> 'running'
	`, eventPath)
	return err
}

func scanAlarms(rows *sql.Rows) ([]*storage.Alarm, error) {
	defer rows.Close()

	var out []*storage.Alarm
	for rows.Next() {
		var a storage.Alarm
		var state string
		var due, occ, created, updated int64
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.EventPath, &a.EventUID, &a.RecurrenceID, &a.AlarmIndex,
			&a.Action, &a.Attendee, &due, &occ, &state, &created, &updated,
		); err != nil {
			return nil, err
		}
		a.State = storage.AlarmState(state)
		a.DueDate = fromMillis(due)
		a.OccurrenceStart = fromMillis(occ)
		a.CreatedAt = fromMillis(created)
		a.UpdatedAt = fromMillis(updated)
		out = append(out, &a)
	}
	return out, rows.Err()
}
